package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoMock is a small in-memory stand-in for the notifications table.
// It understands only the expressions this package issues.
type dynamoMock struct {
	mu       sync.Mutex
	table    map[string]map[string]types.AttributeValue
	putCalls int
}

func newDynamoMock() *dynamoMock {
	return &dynamoMock{table: map[string]map[string]types.AttributeValue{}}
}

func strAttr(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (m *dynamoMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++

	key := strAttr(params.Item["dedupe_hash"])
	if key == "" {
		return nil, errors.New("missing dedupe_hash")
	}
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(dedupe_hash)" {
		if _, ok := m.table[key]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[key] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *dynamoMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.table[strAttr(params.Key["dedupe_hash"])]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *dynamoMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strAttr(params.Key["dedupe_hash"])
	item, ok := m.table[key]
	if !ok {
		return nil, errors.New("item not found")
	}
	if params.ConditionExpression != nil && strings.Contains(*params.ConditionExpression, "#s = :expected") {
		expected := params.ExpressionAttributeValues[":expected"]
		if strAttr(item["status"]) != strAttr(expected) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	if v, ok := params.ExpressionAttributeValues[":next"]; ok {
		item["status"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":s"]; ok {
		item["status"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":pa"]; ok {
		item["processed_at"] = v
	}
	m.table[key] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}
