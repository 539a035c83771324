package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sellerpulse/pricewatch/internal/aws"
)

// ErrStatusMismatch indicates a conditional status transition failed.
var ErrStatusMismatch = errors.New("notification status mismatch")

// Store encapsulates the worker_notifications table. Rows are created
// exactly once per dedupe hash and never deleted.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store bound to the notifications table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists the notification with status NEW if its dedupe hash has
// never been seen. Returns (true, nil) when the row was created and
// (false, nil) when a byte-identical delivery already exists — the
// duplicate case is a success no-op, not an error.
func (s *Store) Create(ctx context.Context, ev *Event) (bool, error) {
	rec := Record{
		DedupeHash:    ev.DedupeHash,
		MessageID:     ev.MessageID,
		ASIN:          ev.ASIN,
		MarketplaceID: ev.MarketplaceID,
		EventType:     ev.EventType,
		EventTime:     ev.EventTime,
		Status:        StatusNew,
		RawPayload:    ev.RawPayload,
		ReceivedAt:    s.nowFunc().UTC(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal notification: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(dedupe_hash)"),
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("put notification: %w", err)
	}
	return true, nil
}

// SetStatus conditionally moves a notification from expected to next.
// Returns ErrStatusMismatch when another worker already moved it.
func (s *Store) SetStatus(ctx context.Context, dedupeHash, expected, next string) error {
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"dedupe_hash": &types.AttributeValueMemberS{Value: dedupeHash},
		},
		UpdateExpression:         awsString("SET #s = :next"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberS{Value: next},
			":expected": &types.AttributeValueMemberS{Value: expected},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update notification status: %w", err)
	}
	return nil
}

// MarkProcessed sets the terminal status and stamps processed_at.
func (s *Store) MarkProcessed(ctx context.Context, dedupeHash, status string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"dedupe_hash": &types.AttributeValueMemberS{Value: dedupeHash},
		},
		UpdateExpression:         awsString("SET #s = :s, processed_at = :pa"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":  &types.AttributeValueMemberS{Value: status},
			":pa": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("mark notification processed: %w", err)
	}
	return nil
}

// Get retrieves a notification by dedupe hash. Returns (nil, nil) when the
// hash has never been seen.
func (s *Store) Get(ctx context.Context, dedupeHash string) (*Record, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"dedupe_hash": &types.AttributeValueMemberS{Value: dedupeHash},
		},
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &rec, nil
}

func awsString(s string) *string { return &s }
