package failures

import (
	"context"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sellerpulse/pricewatch/internal/aws"
)

// Error kinds recorded in the ledger.
const (
	KindParse          = "parse_error"
	KindTransientStore = "transient_store"
	KindRateLimited    = "rate_limited"
	KindAuth           = "auth_error"
	KindFatalExternal  = "fatal_external"
	KindUnknown        = "unknown"
)

// Failure describes one processing failure. DedupeHash keys repeat
// failures of the same logical event onto one row so attempt_count grows;
// without it a fresh row is created.
type Failure struct {
	MessageID    string
	DedupeHash   string
	RawPayload   string
	ErrorKind    string
	ErrorMessage string
}

// Ledger is the append-only worker_failures table for operational triage.
type Ledger struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewLedger returns a Ledger bound to the failures table.
func NewLedger(client aws.DynamoDBAPI, tableName string) *Ledger {
	return &Ledger{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Record upserts a failure row, bumping attempt_count and keeping
// first_failed_at from the first occurrence. Never returns rows to the
// caller; the ledger is write-only from the pipeline's side.
func (l *Ledger) Record(ctx context.Context, f Failure) error {
	id := f.DedupeHash
	if id == "" {
		id = uuid.NewString()
	}
	now := l.nowFunc().UTC().Format(time.RFC3339)

	input := &dyn.UpdateItemInput{
		TableName: &l.tableName,
		Key: map[string]types.AttributeValue{
			"failure_id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression: awsString(
			"SET message_id = :mid, raw_payload = :rp, error_kind = :ek, error_message = :em, " +
				"last_failed_at = :now, first_failed_at = if_not_exists(first_failed_at, :now) " +
				"ADD attempt_count :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":mid": &types.AttributeValueMemberS{Value: f.MessageID},
			":rp":  &types.AttributeValueMemberS{Value: f.RawPayload},
			":ek":  &types.AttributeValueMemberS{Value: f.ErrorKind},
			":em":  &types.AttributeValueMemberS{Value: f.ErrorMessage},
			":now": &types.AttributeValueMemberS{Value: now},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	}

	if _, err := l.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
