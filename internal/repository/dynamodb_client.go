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

	"academic-assistant/internal/domain"
)

const (
	skPrefixTurn = "TURN#"
	skMeta       = "META#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores conversation turns in a single DynamoDB table.
//
// Each session has a META# item carrying the current epoch and turn count.
// Turns are keyed TURN#<epoch>#<index>, so clearing a session is one write
// that bumps the epoch; turns from older epochs are never read again and
// expire through the table TTL.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// sessionMeta is the decoded META# item.
type sessionMeta struct {
	Epoch int
	Turns int
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func turnPrefix(epoch int) string {
	return fmt.Sprintf("%s%06d#", skPrefixTurn, epoch)
}

// turnSK keeps lexical order equal to append order.
func turnSK(epoch, index int) string {
	return fmt.Sprintf("%s%09d", turnPrefix(epoch), index)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

func (c *Client) key(sessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (c *Client) getMeta(ctx context.Context, sessionID string) (sessionMeta, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(sessionID, skMeta),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return sessionMeta{}, false, fmt.Errorf("repository: get meta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return sessionMeta{}, false, nil
	}

	epoch, err := intAttr(out.Item, "epoch")
	if err != nil {
		return sessionMeta{}, false, fmt.Errorf("repository: decode epoch: %w", err)
	}
	turns, err := intAttr(out.Item, "turns")
	if err != nil {
		return sessionMeta{}, false, fmt.Errorf("repository: decode turns: %w", err)
	}
	return sessionMeta{Epoch: epoch, Turns: turns}, true, nil
}

// Append writes the turn and advances the turn counter in one transaction.
// The meta condition rejects a concurrent append or clear.
func (c *Client) Append(ctx context.Context, sessionID string, turn domain.Turn) error {
	meta, found, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}

	metaPut := &types.Put{
		TableName: aws.String(c.tableName),
		Item:      metaItem(sessionID, sessionMeta{Epoch: meta.Epoch, Turns: meta.Turns + 1}),
	}
	if found {
		metaPut.ConditionExpression = aws.String("#epoch = :epoch AND #turns = :turns")
		metaPut.ExpressionAttributeNames = map[string]string{"#epoch": "epoch", "#turns": "turns"}
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":epoch": &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Epoch)},
			":turns": &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Turns)},
		}
	} else {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(sessionID, turnSK(meta.Epoch, meta.Turns), turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{Put: metaPut},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// Snapshot returns the turns of the current epoch in append order.
func (c *Client) Snapshot(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	meta, found, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: Snapshot: %w", err)
	}
	turns := []domain.Turn{}
	if !found || meta.Turns == 0 {
		return turns, nil
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: turnPrefix(meta.Epoch)},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: Snapshot query: %w", err)
		}
		for _, item := range out.Items {
			turn, err := itemToTurn(item)
			if err != nil {
				return nil, fmt.Errorf("repository: Snapshot unmarshal: %w", err)
			}
			turns = append(turns, turn)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return turns, nil
}

// Clear starts a new epoch with zero turns.
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	meta, found, err := c.getMeta(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: Clear: %w", err)
	}
	if !found {
		return nil
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      metaItem(sessionID, sessionMeta{Epoch: meta.Epoch + 1}),
	})
	if err != nil {
		return fmt.Errorf("repository: Clear: %w", err)
	}
	return nil
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	return domain.Turn{Role: domain.Role(role), Text: text}, nil
}

func turnItem(sessionID, sk string, turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: sk},
		"sessionId": &types.AttributeValueMemberS{Value: sessionID},
		"role":      &types.AttributeValueMemberS{Value: string(turn.Role)},
		"text":      &types.AttributeValueMemberS{Value: turn.Text},
		"createdAt": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
}

func metaItem(sessionID string, meta sessionMeta) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: sessionID},
		"lastActivity": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		"epoch":        &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Epoch)},
		"turns":        &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Turns)},
		"ttl":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
