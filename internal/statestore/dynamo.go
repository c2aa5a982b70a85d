package statestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type stateItem struct {
	ThreadID            string `dynamodbav:"threadId"`
	StateData           string `dynamodbav:"stateData"`
	Version             int64  `dynamodbav:"version"`
	QualificationStatus string `dynamodbav:"qualificationStatus"`
	QualificationScore  int    `dynamodbav:"qualificationScore"`
	ConversationStage   string `dynamodbav:"conversationStage"`
	CustomerEmail       string `dynamodbav:"customerEmail,omitempty"`
	CustomerPhone       string `dynamodbav:"customerPhone,omitempty"`
	// Unix nanoseconds, so cutoff comparisons match the in-memory stores.
	LastActivity        int64  `dynamodbav:"lastActivity"`
	CreatedAt           int64  `dynamodbav:"createdAt"`
	ExpiresAt           int64  `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore persists states as DynamoDB items keyed by threadId. When a
// retention is configured the table's TTL attribute expiresAt is set as a
// second line of cleanup behind the reaper.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	retention time.Duration
	logger    *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, tableName string, retention time.Duration, logger *logging.Logger) *DynamoStore {
	if client == nil {
		panic("statestore: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("statestore: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStore{client: client, tableName: tableName, retention: retention, logger: logger}
}

func (s *DynamoStore) key(threadID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"threadId": &types.AttributeValueMemberS{Value: threadID},
	}
}

// Get fetches and decodes the state item.
func (s *DynamoStore) Get(ctx context.Context, threadID string) (*qualification.ConversationState, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(threadID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, &apperrors.StoreError{Op: "get", ThreadID: threadID, Err: err}
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item stateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("statestore: decode item %s: %w", threadID, err)
	}
	return decodeItem(item)
}

// Put writes the item conditioned on the expected version.
func (s *DynamoStore) Put(ctx context.Context, state *qualification.ConversationState) error {
	if state == nil || state.ThreadID == "" {
		return errors.New("statestore: state with thread id required")
	}
	expected := state.Version
	snapshot := state.Clone()
	snapshot.Version = expected + 1
	data, err := qualification.Encode(snapshot)
	if err != nil {
		return err
	}

	item := stateItem{
		ThreadID:            snapshot.ThreadID,
		StateData:           string(data),
		Version:             snapshot.Version,
		QualificationStatus: string(snapshot.Qualification.Status),
		QualificationScore:  snapshot.Qualification.Score,
		ConversationStage:   string(snapshot.Stage),
		CustomerEmail:       snapshot.Customer.Email,
		CustomerPhone:       snapshot.Customer.Phone,
		LastActivity:        snapshot.LastActivity.UnixNano(),
		CreatedAt:           snapshot.CreatedAt.UnixNano(),
	}
	if s.retention > 0 {
		item.ExpiresAt = snapshot.LastActivity.Add(s.retention).Unix()
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("statestore: marshal item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(threadId) OR #version = :expected"),
		ExpressionAttributeNames: map[string]string{
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expected)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return &apperrors.StoreError{Op: "put", ThreadID: state.ThreadID, Err: err}
	}
	state.Version = snapshot.Version
	return nil
}

// Scan walks the table for recently active threads. Intended for
// dashboards over modest tables; results are sorted client side.
func (s *DynamoStore) Scan(ctx context.Context, activeSince time.Time, limit int) ([]Summary, error) {
	items, err := s.scanItems(ctx, "lastActivity >= :ts", activeSince, false)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(items))
	for _, item := range items {
		status, err := qualification.ParseStatus(item.QualificationStatus)
		if err != nil {
			return nil, err
		}
		stage, err := qualification.ParseStage(item.ConversationStage)
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{
			ThreadID:            item.ThreadID,
			QualificationStatus: status,
			ConversationStage:   stage,
			QualificationScore:  item.QualificationScore,
			CustomerEmail:       item.CustomerEmail,
			LastActivity:        time.Unix(0, item.LastActivity).UTC(),
			CreatedAt:           time.Unix(0, item.CreatedAt).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteOlderThan deletes every item with lastActivity strictly before cutoff.
func (s *DynamoStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	items, err := s.scanItems(ctx, "lastActivity < :ts", cutoff, true)
	if err != nil {
		return 0, err
	}
	var deleted int64
	for _, item := range items {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(s.tableName),
			Key:                 s.key(item.ThreadID),
			ConditionExpression: aws.String("lastActivity < :ts"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ts": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff.UnixNano(), 10)},
			},
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				// touched since the scan
				continue
			}
			return deleted, &apperrors.StoreError{Op: "cleanup", ThreadID: item.ThreadID, Err: err}
		}
		deleted++
	}
	s.logger.Debug("statestore: dynamo cleanup finished", "deleted", deleted, "candidates", len(items))
	return deleted, nil
}

// ListExpired returns up to limit states older than cutoff, oldest first.
func (s *DynamoStore) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*qualification.ConversationState, error) {
	items, err := s.scanItems(ctx, "lastActivity < :ts", cutoff, false)
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].LastActivity < items[j].LastActivity })
	if limit = normalizeLimit(limit); len(items) > limit {
		items = items[:limit]
	}
	out := make([]*qualification.ConversationState, 0, len(items))
	for _, item := range items {
		state, err := decodeItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

func (s *DynamoStore) scanItems(ctx context.Context, filter string, ts time.Time, keysOnly bool) ([]stateItem, error) {
	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String(filter),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberN{Value: strconv.FormatInt(ts.UnixNano(), 10)},
		},
	}
	if keysOnly {
		input.ProjectionExpression = aws.String("threadId, lastActivity")
	}

	var items []stateItem
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, &apperrors.StoreError{Op: "scan", Err: err}
		}
		var page []stateItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("statestore: decode scan page: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func decodeItem(item stateItem) (*qualification.ConversationState, error) {
	state, err := qualification.Decode([]byte(item.StateData))
	if err != nil {
		return nil, fmt.Errorf("statestore: decode %s: %w", item.ThreadID, err)
	}
	state.Version = item.Version
	return state, nil
}
