package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"lifebot-chat/internal/domain"
)

const (
	skMeta       = "META#"
	skPrefixLock = "LOCK#"
	ttlDuration  = 7 * 24 * time.Hour // sessions idle for a week are dropped
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store defines the chat session operations consumed by the use case.
type Store interface {
	Advance(ctx context.Context, sessionID string, change domain.SelectionChange) (domain.Selection, error)
	Current(ctx context.Context, sessionID string) (domain.Selection, error)
	AcquireAction(ctx context.Context, sessionID, action, owner string, ttl time.Duration) (bool, error)
	ReleaseAction(ctx context.Context, sessionID, action, owner string) error
}

// Client wraps a DynamoDB table holding chat session state.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// sessPK returns the DynamoDB partition key for a chat session.
func sessPK(sessionID string) string {
	return "SESS#" + sessionID
}

func lockSK(action string) string {
	return skPrefixLock + action
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// Advance assigns the next selection token for the session and applies change.
// The token is incremented atomically, so concurrent selections always get
// distinct, increasing tokens.
func (c *Client) Advance(ctx context.Context, sessionID string, change domain.SelectionChange) (domain.Selection, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Selection{}, errors.New("repository: Advance: session id is required")
	}

	expr := "ADD selectionToken :one SET sessionId = :sid, conversationId = :conv, updatedAt = :now, #ttl = :ttl"
	values := map[string]types.AttributeValue{
		":one":  &types.AttributeValueMemberN{Value: "1"},
		":sid":  &types.AttributeValueMemberS{Value: sessionID},
		":conv": &types.AttributeValueMemberS{Value: change.ConversationID},
		":now":  &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)},
		":ttl":  &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
	if change.SetBot {
		expr += ", botId = :bot"
		values[":bot"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(change.BotID, 10)}
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return domain.Selection{}, fmt.Errorf("repository: Advance update item: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.Selection{}, errors.New("repository: Advance: no attributes returned")
	}
	sel, err := itemToSelection(sessionID, out.Attributes)
	if err != nil {
		return domain.Selection{}, fmt.Errorf("repository: Advance decode: %w", err)
	}
	return sel, nil
}

// Current returns the session's selection. A session that has never selected
// anything has token 0.
func (c *Client) Current(ctx context.Context, sessionID string) (domain.Selection, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Selection{}, fmt.Errorf("repository: Current get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Selection{SessionID: sessionID}, nil
	}
	sel, err := itemToSelection(sessionID, out.Item)
	if err != nil {
		return domain.Selection{}, fmt.Errorf("repository: Current decode: %w", err)
	}
	return sel, nil
}

// AcquireAction takes the in-flight lock for action on behalf of owner. It
// returns false when an unexpired lock is already held.
func (c *Client) AcquireAction(ctx context.Context, sessionID, action, owner string, ttl time.Duration) (bool, error) {
	now := c.now()
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: sessPK(sessionID)},
			"SK":        &types.AttributeValueMemberS{Value: lockSK(action)},
			"owner":     &types.AttributeValueMemberS{Value: owner},
			"expiresAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).UnixMilli(), 10)},
			"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) OR expiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("repository: AcquireAction %q: %w", action, err)
	}
	return true, nil
}

// ReleaseAction drops the in-flight lock for action if owner still holds it.
// A lock that expired and was taken over by another request is left alone.
func (c *Client) ReleaseAction(ctx context.Context, sessionID, action, owner string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessPK(sessionID)},
			"SK": &types.AttributeValueMemberS{Value: lockSK(action)},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("repository: ReleaseAction %q: %w", action, err)
	}
	return nil
}

// itemToSelection converts a DynamoDB attribute map to a Selection.
func itemToSelection(sessionID string, item map[string]types.AttributeValue) (domain.Selection, error) {
	token, err := int64Attr(item, "selectionToken")
	if err != nil {
		return domain.Selection{}, err
	}
	sel := domain.Selection{SessionID: sessionID, Token: token}
	sel.ConversationID, _ = strAttr(item, "conversationId") // allow empty
	sel.UpdatedAt, _ = strAttr(item, "updatedAt")
	if _, ok := item["botId"]; ok {
		bot, err := int64Attr(item, "botId")
		if err != nil {
			return domain.Selection{}, err
		}
		sel.BotID = bot
	}
	return sel, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
