package incidents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// kvItem is one record key. The table is keyed by (namespace, recordKey).
type kvItem struct {
	Namespace string `dynamodbav:"namespace"`
	Key       string `dynamodbav:"recordKey"`
	Value     string `dynamodbav:"value"`
	UpdatedAt string `dynamodbav:"updatedAt"`
}

// DynamoKV stores each record key as an item under one namespace partition.
type DynamoKV struct {
	client    dynamoAPI
	tableName string
	namespace string
}

func NewDynamoKV(client dynamoAPI, tableName, namespace string) *DynamoKV {
	if client == nil {
		panic("incidents: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("incidents: table name cannot be empty")
	}
	if namespace == "" {
		namespace = "default"
	}
	return &DynamoKV{client: client, tableName: tableName, namespace: namespace}
}

func (s *DynamoKV) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"namespace": &types.AttributeValueMemberS{Value: s.namespace},
		"recordKey": &types.AttributeValueMemberS{Value: key},
	}
}

func (s *DynamoKV) Get(ctx context.Context, keys ...string) (Record, error) {
	if len(keys) == 0 {
		items, err := s.queryAll(ctx)
		if err != nil {
			return nil, err
		}
		out := make(Record, len(items))
		for _, it := range items {
			out[it.Key] = json.RawMessage(it.Value)
		}
		return out, nil
	}

	out := make(Record, len(keys))
	for _, key := range keys {
		resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tableName),
			Key:            s.itemKey(key),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("incidents: dynamodb get %s: %w", key, err)
		}
		if len(resp.Item) == 0 {
			continue
		}
		var it kvItem
		if err := attributevalue.UnmarshalMap(resp.Item, &it); err != nil {
			return nil, fmt.Errorf("incidents: dynamodb decode %s: %w", key, err)
		}
		out[key] = json.RawMessage(it.Value)
	}
	return out, nil
}

func (s *DynamoKV) Set(ctx context.Context, rec Record) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for key, raw := range rec {
		item, err := attributevalue.MarshalMap(kvItem{
			Namespace: s.namespace,
			Key:       key,
			Value:     string(raw),
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("incidents: dynamodb marshal %s: %w", key, err)
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      item,
		}); err != nil {
			return fmt.Errorf("incidents: dynamodb put %s: %w", key, err)
		}
	}
	return nil
}

func (s *DynamoKV) Clear(ctx context.Context) error {
	items, err := s.queryAll(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       s.itemKey(it.Key),
		}); err != nil {
			return fmt.Errorf("incidents: dynamodb delete %s: %w", it.Key, err)
		}
	}
	return nil
}

func (s *DynamoKV) queryAll(ctx context.Context) ([]kvItem, error) {
	var (
		items []kvItem
		start map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(s.tableName),
			KeyConditionExpression:   aws.String("#ns = :ns"),
			ExpressionAttributeNames: map[string]string{"#ns": "namespace"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ns": &types.AttributeValueMemberS{Value: s.namespace},
			},
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("incidents: dynamodb query: %w", err)
		}
		var page []kvItem
		if err := attributevalue.UnmarshalListOfMaps(resp.Items, &page); err != nil {
			return nil, fmt.Errorf("incidents: dynamodb decode page: %w", err)
		}
		items = append(items, page...)
		if len(resp.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = resp.LastEvaluatedKey
	}
}
