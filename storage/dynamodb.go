package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/johnwmail/nshare/models"
)

// dynamoAPI is the subset of the DynamoDB client the store uses
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore implements PasteStore using DynamoDB. The table is keyed by
// "id" and has TTL enabled on the "ttl" attribute (epoch seconds).
type DynamoStore struct {
	client    dynamoAPI
	tableName string
}

// dynamoItem is the table layout of a paste
type dynamoItem struct {
	ID            string        `dynamodbav:"id"`
	Content       string        `dynamodbav:"content"`
	CreatedAt     int64         `dynamodbav:"created_at"`
	ExpiresAt     int64         `dynamodbav:"expires_at"`
	TTL           int64         `dynamodbav:"ttl"`
	FileName      string        `dynamodbav:"file_name,omitempty"`
	FileType      string        `dynamodbav:"file_type,omitempty"`
	IsFile        bool          `dynamodbav:"is_file"`
	Files         []models.File `dynamodbav:"files,omitempty"`
	IsMultiFile   bool          `dynamodbav:"is_multi_file"`
	AllowEditing  bool          `dynamodbav:"allow_editing"`
	DownloadCount int64         `dynamodbav:"download_count"`
}

// NewDynamoStore creates a new DynamoDB storage backend
func NewDynamoStore(ctx context.Context, tableName, region string) (*DynamoStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &DynamoStore{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
	}, nil
}

func (d *DynamoStore) key(code string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: code},
	}
}

// Create saves a paste unless its code is already present
func (d *DynamoStore) Create(ctx context.Context, paste *models.Paste) error {
	item, err := pasteToItem(paste)
	if err != nil {
		return err
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrCodeTaken
		}
		return fmt.Errorf("dynamodb create paste %s: %w", paste.Code, err)
	}
	return nil
}

// Get retrieves a paste by its code
func (d *DynamoStore) Get(ctx context.Context, code string) (*models.Paste, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.key(code),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get paste %s: %w", code, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return itemToPaste(result.Item)
}

// UpdateContent overwrites the content of a paste
func (d *DynamoStore) UpdateContent(ctx context.Context, code, content string) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 d.key(code),
		UpdateExpression:    aws.String("SET content = :c"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: content},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("dynamodb update paste %s: %w", code, err)
	}
	return nil
}

// IncrementDownloadCount increments the download count for a paste
func (d *DynamoStore) IncrementDownloadCount(ctx context.Context, code string) (int64, error) {
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 d.key(code),
		UpdateExpression:    aws.String("ADD download_count :inc"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inc": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("dynamodb increment paste %s: %w", code, err)
	}

	var count int64
	if av, ok := out.Attributes["download_count"]; ok {
		if err := attributevalue.Unmarshal(av, &count); err != nil {
			return 0, fmt.Errorf("dynamodb decode download count: %w", err)
		}
	}
	return count, nil
}

// Delete removes a paste from DynamoDB
func (d *DynamoStore) Delete(ctx context.Context, code string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.key(code),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete paste %s: %w", code, err)
	}
	return nil
}

// Sweep is a no-op; the table's TTL attribute expires items and reads
// check expiresAt before serving.
func (d *DynamoStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Close is a no-op for DynamoDB
func (d *DynamoStore) Close() error {
	return nil
}

func pasteToItem(p *models.Paste) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(dynamoItem{
		ID:            p.Code,
		Content:       p.Content,
		CreatedAt:     p.CreatedAt,
		ExpiresAt:     p.ExpiresAt,
		TTL:           (p.ExpiresAt + 999) / 1000,
		FileName:      p.FileName,
		FileType:      p.FileType,
		IsFile:        p.IsFile,
		Files:         p.Files,
		IsMultiFile:   p.IsMultiFile,
		AllowEditing:  p.AllowEditing,
		DownloadCount: p.DownloadCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal paste %s: %w", p.Code, err)
	}
	return item, nil
}

// itemToPaste converts a DynamoDB item to a Paste model
func itemToPaste(item map[string]types.AttributeValue) (*models.Paste, error) {
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal paste item: %w", err)
	}
	return &models.Paste{
		Code:          it.ID,
		Content:       it.Content,
		CreatedAt:     it.CreatedAt,
		ExpiresAt:     it.ExpiresAt,
		FileName:      it.FileName,
		FileType:      it.FileType,
		IsFile:        it.IsFile,
		Files:         it.Files,
		IsMultiFile:   it.IsMultiFile,
		AllowEditing:  it.AllowEditing,
		DownloadCount: it.DownloadCount,
	}, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
