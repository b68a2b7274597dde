// Package repository persists quoting sessions: the state blob with an
// optimistic version, plus an append-only transcript.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"quote-agent/internal/domain"
)

const ttlDuration = 30 * 24 * time.Hour // 30-day TTL

var (
	ErrNotFound = errors.New("repository: session not found")
	ErrConflict = errors.New("repository: session modified concurrently")
)

// Session is a loaded state together with the version it was read at.
type Session struct {
	State   domain.ConversationState
	Version int
}

// Store is implemented by DynamoStore and MemoryStore.
type Store interface {
	Load(ctx context.Context, sessionID string) (Session, error)
	// Save writes next if the stored version still equals prev.Version and
	// appends the messages next has beyond prev.State.Messages.
	Save(ctx context.Context, prev Session, next domain.ConversationState) (Session, error)
	Transcript(ctx context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error)
}

// encodeState serializes st without raw upload bytes. Photos only count
// toward the valuation and certificates are read once, so names and digests
// are enough to keep.
func encodeState(st domain.ConversationState) ([]byte, error) {
	st = st.Clone()
	st.PendingCertificate = nil
	st.Photos = stripData(st.Photos)
	st.Certificates = stripData(st.Certificates)
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("repository: encode state: %w", err)
	}
	return b, nil
}

func decodeState(b []byte) (domain.ConversationState, error) {
	var st domain.ConversationState
	if err := json.Unmarshal(b, &st); err != nil {
		return domain.ConversationState{}, fmt.Errorf("repository: decode state: %w", err)
	}
	if st.Messages == nil {
		st.Messages = []domain.ChatMessage{}
	}
	return st, nil
}

func stripData(in []domain.Attachment) []domain.Attachment {
	for i := range in {
		in[i].Data = nil
		in[i].Text = ""
	}
	return in
}

// newMessages returns the transcript entries next adds over prev.
func newMessages(prev, next domain.ConversationState, ttl int64) ([]domain.TranscriptEntry, error) {
	from := len(prev.Messages)
	if len(next.Messages) < from {
		return nil, fmt.Errorf("repository: transcript shrank from %d to %d messages", from, len(next.Messages))
	}
	out := make([]domain.TranscriptEntry, 0, len(next.Messages)-from)
	for i, m := range next.Messages[from:] {
		seq := from + i
		out = append(out, domain.TranscriptEntry{
			PK:        sessionPK(next.SessionID),
			SK:        msgSK(seq),
			SessionID: next.SessionID,
			Seq:       seq,
			Role:      m.Role,
			Content:   m.Content,
			Step:      string(next.CurrentStep),
			TTL:       ttl,
		})
	}
	return out, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK zero-pads the sequence so lexical order is chronological.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%06d", skPrefixMsg, seq)
}

func ttlValue(now time.Time) int64 {
	return now.Add(ttlDuration).Unix()
}
