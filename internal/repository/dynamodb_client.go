package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"quote-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"

	// One transaction holds at most 100 items; the meta record takes one.
	maxMessagesPerSave = 99
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps sessions in a single table. The META# item holds the
// state blob and version; MSG#<seq> items hold the transcript.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a DynamoDB-backed Store.
func New(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, now: time.Now}, nil
}

// Load reads the META# item with a consistent read.
func (c *DynamoStore) Load(ctx context.Context, sessionID string) (Session, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Session{}, fmt.Errorf("repository: Load get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return Session{}, ErrNotFound
	}

	meta, err := itemToMeta(out.Item)
	if err != nil {
		return Session{}, fmt.Errorf("repository: Load decode meta: %w", err)
	}
	st, err := decodeState(meta.State)
	if err != nil {
		return Session{}, err
	}
	return Session{State: st, Version: meta.Version}, nil
}

// Save writes the meta item and the new transcript entries in one
// transaction. The meta put is conditioned on the version prev was read at.
func (c *DynamoStore) Save(ctx context.Context, prev Session, next domain.ConversationState) (Session, error) {
	if next.SessionID == "" {
		return Session{}, errors.New("repository: Save: session id is required")
	}
	now := c.now().UTC()
	ttl := ttlValue(now)

	msgs, err := newMessages(prev.State, next, ttl)
	if err != nil {
		return Session{}, err
	}
	if len(msgs) > maxMessagesPerSave {
		return Session{}, fmt.Errorf("repository: Save: %d new messages exceed the per-save limit", len(msgs))
	}
	blob, err := encodeState(next)
	if err != nil {
		return Session{}, err
	}

	meta := domain.SessionMeta{
		PK:           sessionPK(next.SessionID),
		SK:           skMeta,
		SessionID:    next.SessionID,
		LastActivity: now.Format(time.RFC3339),
		Turns:        next.Turn,
		Messages:     len(next.Messages),
		Step:         string(next.CurrentStep),
		Version:      prev.Version + 1,
		State:        blob,
		TTL:          ttl,
	}

	metaPut := &types.Put{
		TableName: aws.String(c.tableName),
		Item:      metaItem(meta),
	}
	if prev.Version == 0 {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		metaPut.ConditionExpression = aws.String("version = :expected")
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(prev.Version)},
		}
	}

	items := make([]types.TransactWriteItem, 0, len(msgs)+1)
	items = append(items, types.TransactWriteItem{Put: metaPut})
	for _, m := range msgs {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                transcriptItem(m),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		}})
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConditionFailure(err) {
			return Session{}, ErrConflict
		}
		return Session{}, fmt.Errorf("repository: Save: %w", err)
	}
	return Session{State: next, Version: meta.Version}, nil
}

// Transcript returns the newest limit messages in chronological order.
func (c *DynamoStore) Transcript(ctx context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent messages.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: Transcript query: %w", err)
	}

	entries := make([]domain.TranscriptEntry, 0, len(out.Items))
	for _, item := range out.Items {
		e, err := itemToTranscript(item)
		if err != nil {
			return nil, fmt.Errorf("repository: Transcript unmarshal: %w", err)
		}
		entries = append(entries, e)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func isConditionFailure(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return false
	}
	for _, r := range txErr.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func metaItem(meta domain.SessionMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: meta.PK},
		"SK":           &types.AttributeValueMemberS{Value: meta.SK},
		"sessionId":    &types.AttributeValueMemberS{Value: meta.SessionID},
		"lastActivity": &types.AttributeValueMemberS{Value: meta.LastActivity},
		"turns":        &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Turns)},
		"messages":     &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Messages)},
		"step":         &types.AttributeValueMemberS{Value: meta.Step},
		"version":      &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Version)},
		"state":        &types.AttributeValueMemberB{Value: meta.State},
		"ttl":          &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.TTL, 10)},
	}
}

func itemToMeta(item map[string]types.AttributeValue) (domain.SessionMeta, error) {
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.SessionMeta{}, err
	}
	v, ok := item["state"].(*types.AttributeValueMemberB)
	if !ok {
		return domain.SessionMeta{}, errors.New("repository: attribute \"state\" is missing or not binary")
	}
	step, _ := strAttr(item, "step") // informational only
	return domain.SessionMeta{
		SessionID: sessionID,
		Version:   version,
		Step:      step,
		State:     v.Value,
	}, nil
}

func transcriptItem(e domain.TranscriptEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: e.PK},
		"SK":        &types.AttributeValueMemberS{Value: e.SK},
		"sessionId": &types.AttributeValueMemberS{Value: e.SessionID},
		"seq":       &types.AttributeValueMemberN{Value: strconv.Itoa(e.Seq)},
		"role":      &types.AttributeValueMemberS{Value: e.Role},
		"content":   &types.AttributeValueMemberS{Value: e.Content},
		"step":      &types.AttributeValueMemberS{Value: e.Step},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(e.TTL, 10)},
	}
}

func itemToTranscript(item map[string]types.AttributeValue) (domain.TranscriptEntry, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	seq, err := intAttr(item, "seq")
	if err != nil {
		return domain.TranscriptEntry{}, err
	}
	sessionID, _ := strAttr(item, "sessionId")
	step, _ := strAttr(item, "step")

	return domain.TranscriptEntry{
		PK:        pk,
		SK:        sk,
		SessionID: sessionID,
		Seq:       seq,
		Role:      role,
		Content:   content,
		Step:      step,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
