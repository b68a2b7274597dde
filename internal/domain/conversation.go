package domain

// TranscriptEntry is a single persisted message of a quoting session.
type TranscriptEntry struct {
	PK        string
	SK        string
	SessionID string
	Seq       int
	Role      string
	Content   string
	Step      string
	TTL       int64
}

// SessionMeta stores aggregate session state alongside the serialized
// ConversationState blob.
type SessionMeta struct {
	PK           string
	SK           string
	SessionID    string
	LastActivity string
	Turns        int
	Messages     int
	Step         string
	Version      int
	State        []byte
	TTL          int64
}
