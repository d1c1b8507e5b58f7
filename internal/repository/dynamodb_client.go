package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"connect-messaging/internal/domain"
)

const (
	attrNumber         = "originatingNumber"
	defaultTTL         = 7 * 24 * time.Hour
	defaultContactIdx  = "contactId-index"
	condAbsentOrLapsed = "attribute_not_exists(originatingNumber) OR expiryDateTime <= :now"
	condSameContact    = "contactId = :expectedContactId"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps the session table.
type Client struct {
	api          dynamodbAPI
	tableName    string
	contactIndex string
	now          func() time.Time
}

type Option func(*Client)

// WithContactIndex overrides the GSI used by FindByContactID.
func WithContactIndex(name string) Option {
	return func(c *Client) {
		if name = strings.TrimSpace(name); name != "" {
			c.contactIndex = name
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{
		api:          api,
		tableName:    tableName,
		contactIndex: defaultContactIdx,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewSessionRecord builds a record whose expiry is ttl from now. A
// non-positive ttl falls back to seven days.
func NewSessionRecord(number, contactID, connectionToken string, ttl time.Duration) domain.SessionRecord {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := time.Now().UTC()
	return domain.SessionRecord{
		OriginatingNumber: number,
		ContactID:         contactID,
		ConnectionToken:   connectionToken,
		ExpiryDateTime:    now.Add(ttl).Unix(),
		UpdatedAt:         now.Format(time.RFC3339),
	}
}

// GetSession reads the session for a number with a consistent read.
func (c *Client) GetSession(ctx context.Context, number string) (domain.SessionState, error) {
	rec, found, err := c.getRecord(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("repository: GetSession: %w", err)
	}
	if !found {
		return domain.Absent{}, nil
	}
	return domain.StateOf(rec, c.now().Unix()), nil
}

func (c *Client) getRecord(ctx context.Context, number string) (domain.SessionRecord, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			attrNumber: &types.AttributeValueMemberS{Value: number},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SessionRecord{}, false, nil
	}
	var rec domain.SessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("decode record: %w", err)
	}
	return rec, true, nil
}

// PutSession overwrites the record for rec.OriginatingNumber, but only if the
// stored item still matches expected. A mismatch returns
// domain.ErrSessionConflict.
func (c *Client) PutSession(ctx context.Context, rec domain.SessionRecord, expected domain.SessionState) error {
	if rec.OriginatingNumber == "" || rec.ContactID == "" {
		return errors.New("repository: PutSession: originating number and contact id are required")
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("repository: PutSession marshal: %w", err)
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}
	switch s := expected.(type) {
	case domain.Active:
		in.ConditionExpression = aws.String(condSameContact)
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expectedContactId": &types.AttributeValueMemberS{Value: s.ContactID},
		}
	default:
		in.ConditionExpression = aws.String(condAbsentOrLapsed)
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(c.now().Unix(), 10)},
		}
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: PutSession: %w", domain.ErrSessionConflict)
		}
		return fmt.Errorf("repository: PutSession: %w", err)
	}
	return nil
}

// FindByContactID resolves the session that currently points at contactID.
// The boolean is false when no record references it.
func (c *Client) FindByContactID(ctx context.Context, contactID string) (domain.SessionRecord, bool, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(c.contactIndex),
		KeyConditionExpression: aws.String("contactId = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: contactID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("repository: FindByContactID query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return domain.SessionRecord{}, false, nil
	}
	var rec domain.SessionRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return domain.SessionRecord{}, false, fmt.Errorf("repository: FindByContactID unmarshal: %w", err)
	}
	if rec.OriginatingNumber == "" {
		return domain.SessionRecord{}, false, fmt.Errorf("repository: FindByContactID: missing attribute %q", attrNumber)
	}
	return rec, true, nil
}
