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

	"leadflow-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	skProfile   = "PROFILE#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL on conversation items
)

// ErrNotFound is returned when a requested lead or conversation meta record
// does not exist.
var ErrNotFound = errors.New("repository: not found")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store defines the qualification-state operations consumed by the
// orchestrators. The serverless handlers are the only writers of this table.
type Store interface {
	PutLead(ctx context.Context, lead domain.Lead) error
	GetLead(ctx context.Context, leadID string) (domain.Lead, error)
	UpdateLeadReport(ctx context.Context, leadID, report string, fitScore *int) error
	GetMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error)
	SaveCompletedTurn(ctx context.Context, conversationID, question, answer string, q domain.Qualification) error
	SaveReport(ctx context.Context, conversationID, report string, fitScore *int) error
}

// Client wraps a DynamoDB table holding leads and conversation state.
type Client struct {
	api       dynamodbAPI
	tableName string
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

// convPK returns the partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// leadPK returns the partition key for a lead.
func leadPK(leadID string) string {
	return "LEAD#" + leadID
}

// msgSK returns the sort key for a turn using the given UTC timestamp.
func msgSK(ts time.Time) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// PutLead writes the lead profile item. Creation is conditional on the lead
// not existing yet; leads are never rewritten by the chat flow.
func (c *Client) PutLead(ctx context.Context, lead domain.Lead) error {
	if strings.TrimSpace(lead.ID) == "" {
		return errors.New("repository: PutLead: lead ID is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                leadItem(lead),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: PutLead: %w", err)
	}
	return nil
}

// GetLead loads a lead profile by id.
func (c *Client) GetLead(ctx context.Context, leadID string) (domain.Lead, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: leadPK(leadID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
	})
	if err != nil {
		return domain.Lead{}, fmt.Errorf("repository: GetLead: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Lead{}, ErrNotFound
	}
	return itemToLead(out.Item)
}

// UpdateLeadReport attaches the generated report and fit score to the lead
// profile once report generation succeeds.
func (c *Client) UpdateLeadReport(ctx context.Context, leadID, report string, fitScore *int) error {
	if strings.TrimSpace(leadID) == "" {
		return errors.New("repository: UpdateLeadReport: lead ID is required")
	}
	expr := "SET report = :report"
	vals := map[string]types.AttributeValue{
		":report": &types.AttributeValueMemberS{Value: report},
	}
	if fitScore != nil {
		expr += ", fitScore = :score"
		vals[":score"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*fitScore)}
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: leadPK(leadID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: vals,
		ConditionExpression:       aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateLeadReport: %w", err)
	}
	return nil
}

// GetHistory queries all MSG# items for a conversation ordered chronologically.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	pk := convPK(conversationID)

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// GetMeta returns the conversation metadata record, or ErrNotFound for a
// conversation that has no turns yet.
func (c *Client) GetMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ConversationMeta{}, fmt.Errorf("repository: GetMeta: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ConversationMeta{}, ErrNotFound
	}
	return itemToMeta(out.Item)
}

// SaveTurn writes the paired user/assistant turn and the updated metadata in
// one transaction. The conditional put on the turn item makes a concurrent
// double-submit fail instead of corrupting the transcript.
func (c *Client) SaveTurn(ctx context.Context, turn domain.Turn, meta domain.ConversationMeta) error {
	if turn.PK == "" || turn.SK == "" {
		return errors.New("repository: SaveTurn: turn PK and SK are required")
	}
	if meta.PK == "" || meta.SK == "" {
		return errors.New("repository: SaveTurn: meta PK and SK are required")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem(meta),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// SaveCompletedTurn persists the successful exchange and the refreshed
// qualification state atomically.
func (c *Client) SaveCompletedTurn(ctx context.Context, conversationID, question, answer string, q domain.Qualification) error {
	turn := NewTurn(conversationID, question, answer)
	meta := NewMeta(conversationID, q.LeadID, q.Turns, q.Phase, q.IdentifiedNeed, q.Language)
	if err := c.SaveTurn(ctx, turn, meta); err != nil {
		return fmt.Errorf("repository: SaveCompletedTurn: %w", err)
	}
	return nil
}

// SaveReport persists the generated report and extracted fit score onto the
// conversation metadata record.
func (c *Client) SaveReport(ctx context.Context, conversationID, report string, fitScore *int) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: SaveReport: conversation ID is required")
	}
	expr := "SET report = :report, lastActivity = :la"
	vals := map[string]types.AttributeValue{
		":report": &types.AttributeValueMemberS{Value: report},
		":la":     &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	if fitScore != nil {
		expr += ", fitScore = :score"
		vals[":score"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*fitScore)}
	}
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: vals,
		ConditionExpression:       aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveReport: %w", err)
	}
	return nil
}

// NewTurn constructs a Turn with PK/SK/TTL set from conversationID and current time.
func NewTurn(conversationID, text, answer string) domain.Turn {
	now := time.Now().UTC()
	return domain.Turn{
		PK:             convPK(conversationID),
		SK:             msgSK(now),
		ConversationID: conversationID,
		Text:           text,
		Answer:         answer,
		Status:         "complete",
		TTL:            ttlValue(),
	}
}

// NewMeta constructs a ConversationMeta record.
func NewMeta(conversationID, leadID string, turns, phase int, need, language string) domain.ConversationMeta {
	return domain.ConversationMeta{
		PK:             convPK(conversationID),
		SK:             skMeta,
		ConversationID: conversationID,
		LeadID:         leadID,
		Turns:          turns,
		Phase:          phase,
		IdentifiedNeed: need,
		Language:       language,
		LastActivity:   time.Now().UTC().Format(time.RFC3339),
		TTL:            ttlValue(),
	}
}

func leadItem(lead domain.Lead) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: leadPK(lead.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skProfile},
		"leadId":    &types.AttributeValueMemberS{Value: lead.ID},
		"name":      &types.AttributeValueMemberS{Value: lead.Name},
		"email":     &types.AttributeValueMemberS{Value: lead.Email},
		"company":   &types.AttributeValueMemberS{Value: lead.Company},
		"phone":     &types.AttributeValueMemberS{Value: lead.Phone},
		"status":    &types.AttributeValueMemberS{Value: string(lead.Status)},
		"createdAt": &types.AttributeValueMemberS{Value: lead.CreatedAt.UTC().Format(time.RFC3339)},
	}
	if lead.Report != "" {
		item["report"] = &types.AttributeValueMemberS{Value: lead.Report}
	}
	if lead.FitScore != nil {
		item["fitScore"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*lead.FitScore)}
	}
	return item
}

func turnItem(turn domain.Turn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: turn.PK},
		"SK":             &types.AttributeValueMemberS{Value: turn.SK},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"text":           &types.AttributeValueMemberS{Value: turn.Text},
		"answer":         &types.AttributeValueMemberS{Value: turn.Answer},
		"status":         &types.AttributeValueMemberS{Value: turn.Status},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)},
	}
}

func metaItem(meta domain.ConversationMeta) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: meta.PK},
		"SK":             &types.AttributeValueMemberS{Value: meta.SK},
		"conversationId": &types.AttributeValueMemberS{Value: meta.ConversationID},
		"leadId":         &types.AttributeValueMemberS{Value: meta.LeadID},
		"turns":          &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Turns)},
		"phase":          &types.AttributeValueMemberN{Value: strconv.Itoa(meta.Phase)},
		"identifiedNeed": &types.AttributeValueMemberS{Value: meta.IdentifiedNeed},
		"language":       &types.AttributeValueMemberS{Value: meta.Language},
		"lastActivity":   &types.AttributeValueMemberS{Value: meta.LastActivity},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(meta.TTL, 10)},
	}
	if meta.Report != "" {
		item["report"] = &types.AttributeValueMemberS{Value: meta.Report}
	}
	if meta.FitScore != nil {
		item["fitScore"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*meta.FitScore)}
	}
	return item
}

func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Turn{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}
	answer, _ := strAttr(item, "answer") // allow empty
	status, _ := strAttr(item, "status") // allow empty

	return domain.Turn{
		PK:     pk,
		SK:     sk,
		Text:   text,
		Answer: answer,
		Status: status,
	}, nil
}

func itemToMeta(item map[string]types.AttributeValue) (domain.ConversationMeta, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.ConversationMeta{}, err
	}
	turns, err := intAttr(item, "turns")
	if err != nil {
		return domain.ConversationMeta{}, fmt.Errorf("repository: decode turns: %w", err)
	}
	meta := domain.ConversationMeta{
		PK:    pk,
		SK:    skMeta,
		Turns: turns,
	}
	meta.ConversationID, _ = strAttr(item, "conversationId")
	meta.LeadID, _ = strAttr(item, "leadId")
	meta.IdentifiedNeed, _ = strAttr(item, "identifiedNeed")
	meta.Language, _ = strAttr(item, "language")
	meta.Report, _ = strAttr(item, "report")
	meta.LastActivity, _ = strAttr(item, "lastActivity")
	if phase, err := intAttr(item, "phase"); err == nil {
		meta.Phase = phase
	}
	if score, err := intAttr(item, "fitScore"); err == nil {
		meta.FitScore = &score
	}
	return meta, nil
}

func itemToLead(item map[string]types.AttributeValue) (domain.Lead, error) {
	id, err := strAttr(item, "leadId")
	if err != nil {
		return domain.Lead{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.Lead{}, err
	}
	lead := domain.Lead{ID: id, Name: name}
	lead.Email, _ = strAttr(item, "email")
	lead.Company, _ = strAttr(item, "company")
	lead.Phone, _ = strAttr(item, "phone")
	lead.Report, _ = strAttr(item, "report")
	if status, err := strAttr(item, "status"); err == nil {
		lead.Status = domain.LeadStatus(status)
	}
	if score, err := intAttr(item, "fitScore"); err == nil {
		lead.FitScore = &score
	}
	if created, err := strAttr(item, "createdAt"); err == nil {
		if ts, parseErr := time.Parse(time.RFC3339, created); parseErr == nil {
			lead.CreatedAt = ts
		}
	}
	return lead, nil
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
