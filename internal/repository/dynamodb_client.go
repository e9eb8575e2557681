package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chat-relay/internal/domain"
)

const (
	pkPrefixTurn   = "TURN#"
	skPrefixTS     = "TS#"
	statusComplete = "complete"
	statusFailed   = "failed"
	ttlDuration    = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client writes turn audit records to a DynamoDB table. The table is
// append-only from the relay's point of view; nothing here reads it back.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new audit Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// turnPK returns the partition key for an invocation's audit record.
func turnPK(correlationID string) string {
	return pkPrefixTurn + correlationID
}

// turnSK returns the sort key from the given UTC timestamp.
func turnSK(ts time.Time) string {
	return skPrefixTS + ts.UTC().Format(time.RFC3339Nano)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// SaveTurn persists one audited turn. An empty errorCode marks the turn
// complete; otherwise the record carries the failure code.
func (c *Client) SaveTurn(ctx context.Context, correlationID, message, reply, errorCode string) error {
	if strings.TrimSpace(correlationID) == "" {
		return errors.New("repository: SaveTurn: correlation ID is required")
	}
	rec := NewTurnRecord(correlationID, message, reply, errorCode)

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// NewTurnRecord constructs a TurnRecord with PK/SK/TTL set from the
// correlation ID and current time.
func NewTurnRecord(correlationID, message, reply, errorCode string) domain.TurnRecord {
	status := statusComplete
	if errorCode != "" {
		status = statusFailed
	}
	return domain.TurnRecord{
		PK:            turnPK(correlationID),
		SK:            turnSK(time.Now()),
		CorrelationID: correlationID,
		Message:       message,
		Reply:         reply,
		Status:        status,
		ErrorCode:     errorCode,
		TTL:           ttlValue(),
	}
}

func turnItem(rec domain.TurnRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: rec.PK},
		"SK":            &types.AttributeValueMemberS{Value: rec.SK},
		"correlationId": &types.AttributeValueMemberS{Value: rec.CorrelationID},
		"message":       &types.AttributeValueMemberS{Value: rec.Message},
		"reply":         &types.AttributeValueMemberS{Value: rec.Reply},
		"status":        &types.AttributeValueMemberS{Value: rec.Status},
		"errorCode":     &types.AttributeValueMemberS{Value: rec.ErrorCode},
		"ttl":           &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.TTL)},
	}
}
