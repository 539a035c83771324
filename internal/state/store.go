package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sellerpulse/pricewatch/internal/aws"
	"github.com/sellerpulse/pricewatch/internal/pricing"
)

// ErrStaleEvent indicates the incoming snapshot is older than the stored
// row. Callers log and drop it; queue redelivery must never let a stale
// event clobber newer data.
var ErrStaleEvent = errors.New("event older than stored state")

// record is the persisted shape. last_updated is epoch milliseconds so the
// monotonic condition is a plain numeric comparison.
type record struct {
	ASIN             string   `dynamodbav:"asin"`           // PK
	MarketplaceID    string   `dynamodbav:"marketplace_id"` // SK
	YourPrice        *float64 `dynamodbav:"your_price,omitempty"`
	MarketLowPrice   *float64 `dynamodbav:"market_low_price,omitempty"`
	PrimeLowPrice    *float64 `dynamodbav:"prime_low_price,omitempty"`
	YourRank         *int     `dynamodbav:"your_rank,omitempty"`
	TotalOffers      int      `dynamodbav:"total_offers"`
	BuyBoxIsYours    bool     `dynamodbav:"buy_box_is_yours"`
	Severity         string   `dynamodbav:"severity"`
	SourceDedupeHash string   `dynamodbav:"source_dedupe_hash,omitempty"`
	LastUpdated      int64    `dynamodbav:"last_updated"`
}

// Store encapsulates the current_state table: exactly one row per
// (ASIN, marketplace), overwritten in place.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns a Store bound to the current_state table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Upsert writes the snapshot unless the stored row is newer. Returns
// ErrStaleEvent when the monotonic condition rejects the write.
func (s *Store) Upsert(ctx context.Context, snap pricing.Snapshot) error {
	rec := record{
		ASIN:             snap.ASIN,
		MarketplaceID:    snap.MarketplaceID,
		YourPrice:        snap.YourPrice,
		MarketLowPrice:   snap.MarketLowPrice,
		PrimeLowPrice:    snap.PrimeLowPrice,
		YourRank:         snap.YourRank,
		TotalOffers:      snap.TotalOffers,
		BuyBoxIsYours:    snap.BuyBoxIsYours,
		Severity:         snap.Severity,
		SourceDedupeHash: snap.SourceDedupeHash,
		LastUpdated:      snap.LastUpdated.UTC().UnixMilli(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(last_updated) OR last_updated < :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.LastUpdated)},
		},
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStaleEvent
		}
		return fmt.Errorf("put current state: %w", err)
	}
	return nil
}

// Get returns the stored snapshot for one product, or (nil, nil) when the
// product has never been seen.
func (s *Store) Get(ctx context.Context, asin, marketplaceID string) (*pricing.Snapshot, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"asin":           &types.AttributeValueMemberS{Value: asin},
			"marketplace_id": &types.AttributeValueMemberS{Value: marketplaceID},
		},
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get current state: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal current state: %w", err)
	}

	snap := pricing.Snapshot{
		ASIN:             rec.ASIN,
		MarketplaceID:    rec.MarketplaceID,
		YourPrice:        rec.YourPrice,
		MarketLowPrice:   rec.MarketLowPrice,
		PrimeLowPrice:    rec.PrimeLowPrice,
		YourRank:         rec.YourRank,
		TotalOffers:      rec.TotalOffers,
		BuyBoxIsYours:    rec.BuyBoxIsYours,
		Severity:         rec.Severity,
		SourceDedupeHash: rec.SourceDedupeHash,
		LastUpdated:      time.UnixMilli(rec.LastUpdated).UTC(),
	}
	return &snap, nil
}

func awsString(s string) *string { return &s }
