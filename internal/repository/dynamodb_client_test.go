package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	putErr       error
	putCalls     int
	lastPutInput *dynamodb.PutItemInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putCalls++
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "audit-table")
	require.NoError(t, err)
	return c
}

func strVal(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, ok := item[key]
	require.True(t, ok, "missing attribute %q", key)
	s, ok := v.(*types.AttributeValueMemberS)
	require.True(t, ok, "attribute %q is not a string", key)
	return s.Value
}

func TestSaveTurn_CompletedTurn(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.SaveTurn(context.Background(), "corr-1", "hi", "hello", "")
	require.NoError(t, err)
	require.Equal(t, 1, db.putCalls)
	require.Equal(t, "audit-table", *db.lastPutInput.TableName)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)

	item := db.lastPutInput.Item
	require.Equal(t, "TURN#corr-1", strVal(t, item, "PK"))
	require.Contains(t, strVal(t, item, "SK"), skPrefixTS)
	require.Equal(t, "hi", strVal(t, item, "message"))
	require.Equal(t, "hello", strVal(t, item, "reply"))
	require.Equal(t, statusComplete, strVal(t, item, "status"))
	require.Empty(t, strVal(t, item, "errorCode"))
}

func TestSaveTurn_FailedTurn(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.SaveTurn(context.Background(), "corr-1", "hi", "", "TIMEOUT")
	require.NoError(t, err)

	item := db.lastPutInput.Item
	require.Equal(t, statusFailed, strVal(t, item, "status"))
	require.Equal(t, "TIMEOUT", strVal(t, item, "errorCode"))
	require.Empty(t, strVal(t, item, "reply"))
}

func TestSaveTurn_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)

	err := c.SaveTurn(context.Background(), "corr-1", "hi", "hello", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveTurn")
}

func TestSaveTurn_MissingCorrelationID(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	err := c.SaveTurn(context.Background(), "  ", "hi", "hello", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
	require.Zero(t, db.putCalls)
}

func TestNewTurnRecord_Fields(t *testing.T) {
	rec := NewTurnRecord("corr-9", "hi", "hello", "")
	require.Equal(t, "TURN#corr-9", rec.PK)
	require.Contains(t, rec.SK, skPrefixTS)
	require.Equal(t, "corr-9", rec.CorrelationID)
	require.Equal(t, statusComplete, rec.Status)
	require.Greater(t, rec.TTL, time.Now().Unix())
}

func TestNewTurnRecord_FailedStatus(t *testing.T) {
	rec := NewTurnRecord("corr-9", "hi", "", "BACKEND_ERROR")
	require.Equal(t, statusFailed, rec.Status)
	require.Equal(t, "BACKEND_ERROR", rec.ErrorCode)
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "audit-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
