package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"leadflow-agent/internal/domain"
)

type fakeDynamo struct {
	getOut        *dynamodb.GetItemOutput
	getErr        error
	putErr        error
	queryOut      *dynamodb.QueryOutput
	queryErr      error
	updateErr     error
	txErr         error
	lastGetInput  *dynamodb.GetItemInput
	lastPutInput  *dynamodb.PutItemInput
	lastQueryIn   *dynamodb.QueryInput
	lastUpdateIn  *dynamodb.UpdateItemInput
	lastTxInput   *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func makeTurnItem(pk, sk, text, answer string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: pk},
		"SK":     &types.AttributeValueMemberS{Value: sk},
		"text":   &types.AttributeValueMemberS{Value: text},
		"answer": &types.AttributeValueMemberS{Value: answer},
		"status": &types.AttributeValueMemberS{Value: "complete"},
	}
}

func makeMetaItem(pk string, turns int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: pk},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: "abc"},
		"leadId":         &types.AttributeValueMemberS{Value: "lead-1"},
		"turns":          &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", turns)},
		"phase":          &types.AttributeValueMemberN{Value: "2"},
		"identifiedNeed": &types.AttributeValueMemberS{Value: "Business Automation"},
		"language":       &types.AttributeValueMemberS{Value: "fr"},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	return c
}

func TestGetMeta_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeMetaItem("CONV#abc", 7)}}
	c := mustNewClient(t, db)
	meta, err := c.GetMeta(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, 7, meta.Turns)
	require.Equal(t, 2, meta.Phase)
	require.Equal(t, "lead-1", meta.LeadID)
	require.Equal(t, "Business Automation", meta.IdentifiedNeed)
	require.NotNil(t, db.lastGetInput)
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestGetMeta_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, err := c.GetMeta(context.Background(), "abc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetMeta_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, err := c.GetMeta(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetMeta")
}

func TestGetMeta_MalformedTurns(t *testing.T) {
	db := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"PK":    &types.AttributeValueMemberS{Value: "CONV#abc"},
				"SK":    &types.AttributeValueMemberS{Value: skMeta},
				"turns": &types.AttributeValueMemberS{Value: "bad"},
			},
		},
	}
	c := mustNewClient(t, db)
	_, err := c.GetMeta(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode turns")
}

func TestGetMeta_FitScore(t *testing.T) {
	item := makeMetaItem("CONV#abc", 3)
	item["fitScore"] = &types.AttributeValueMemberN{Value: "82"}
	item["report"] = &types.AttributeValueMemberS{Value: "full report"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	meta, err := c.GetMeta(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, meta.FitScore)
	require.Equal(t, 82, *meta.FitScore)
	require.Equal(t, "full report", meta.Report)
}

func TestGetHistory_HappyPath(t *testing.T) {
	db := &fakeDynamo{
		queryOut: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{
				makeTurnItem("CONV#abc", msgSK(time.Now()), "Bonjour", "Bonjour! Comment puis-je aider?"),
			},
		},
	}
	c := mustNewClient(t, db)
	turns, err := c.GetHistory(context.Background(), "abc", 20)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "Bonjour", turns[0].Text)
}

func TestGetHistory_EmptyResult(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewClient(t, db)
	turns, err := c.GetHistory(context.Background(), "abc", 20)
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestGetHistory_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")}
	c := mustNewClient(t, db)
	_, err := c.GetHistory(context.Background(), "abc", 20)
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetHistory")
}

func TestGetHistory_MalformedItem_MissingText(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "CONV#abc"},
		"SK": &types.AttributeValueMemberS{Value: "MSG#ts"},
	}
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	c := mustNewClient(t, db)
	_, err := c.GetHistory(context.Background(), "abc", 20)
	require.Error(t, err)
	require.Contains(t, err.Error(), "text")
}

func TestGetHistory_KeyConditionExpression(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{}}
	c := mustNewClient(t, db)
	_, err := c.GetHistory(context.Background(), "abc", 20)
	require.NoError(t, err)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.lastQueryIn.KeyConditionExpression)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
}

func TestGetHistory_ReordersDescendingResultsToChronological(t *testing.T) {
	db := &fakeDynamo{
		queryOut: &dynamodb.QueryOutput{
			Items: []map[string]types.AttributeValue{
				makeTurnItem("CONV#abc", "MSG#2026-02-27T12:00:00Z", "newer", "a2"),
				makeTurnItem("CONV#abc", "MSG#2026-02-27T11:00:00Z", "older", "a1"),
			},
		},
	}
	c := mustNewClient(t, db)
	turns, err := c.GetHistory(context.Background(), "abc", 20)
	require.NoError(t, err)
	require.Equal(t, "older", turns[0].Text)
	require.Equal(t, "newer", turns[1].Text)
}

func TestPutLead_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	lead := domain.Lead{ID: "lead-1", Name: "Marie", Email: "marie@example.com", Company: "Acme", Status: domain.StatusNew, CreatedAt: time.Now()}
	require.NoError(t, c.PutLead(context.Background(), lead))
	require.Equal(t, "LEAD#lead-1", db.lastPutInput.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)
}

func TestPutLead_MissingID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.PutLead(context.Background(), domain.Lead{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestGetLead_HappyPath(t *testing.T) {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: "LEAD#lead-1"},
		"SK":        &types.AttributeValueMemberS{Value: skProfile},
		"leadId":    &types.AttributeValueMemberS{Value: "lead-1"},
		"name":      &types.AttributeValueMemberS{Value: "Marie"},
		"email":     &types.AttributeValueMemberS{Value: "marie@example.com"},
		"company":   &types.AttributeValueMemberS{Value: "Acme"},
		"phone":     &types.AttributeValueMemberS{Value: "+33612345678"},
		"status":    &types.AttributeValueMemberS{Value: "new"},
		"createdAt": &types.AttributeValueMemberS{Value: "2026-02-27T11:00:00Z"},
	}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	lead, err := c.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	require.Equal(t, "Marie", lead.Name)
	require.Equal(t, domain.StatusNew, lead.Status)
	require.Equal(t, "+33612345678", lead.Phone)
	require.Equal(t, 2026, lead.CreatedAt.Year())
}

func TestGetLead_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, err := c.GetLead(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLeadReport_SetsScore(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	score := 82
	require.NoError(t, c.UpdateLeadReport(context.Background(), "lead-1", "report body", &score))
	require.Contains(t, *db.lastUpdateIn.UpdateExpression, "fitScore")
	require.Equal(t, "82", db.lastUpdateIn.ExpressionAttributeValues[":score"].(*types.AttributeValueMemberN).Value)
}

func TestUpdateLeadReport_NilScoreOmitted(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.UpdateLeadReport(context.Background(), "lead-1", "report body", nil))
	require.NotContains(t, *db.lastUpdateIn.UpdateExpression, "fitScore")
}

func TestSaveTurn_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	turn := NewTurn("abc", "Quels sont vos services?", "Nous proposons...")
	meta := NewMeta("abc", "lead-1", 2, 2, "Business Automation", "fr")

	err := c.SaveTurn(context.Background(), turn, meta)
	require.NoError(t, err)
	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastTxInput.TransactItems[0].Put.ConditionExpression)
}

func TestSaveTurn_DynamoError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("transaction canceled")}
	c := mustNewClient(t, db)
	err := c.SaveTurn(context.Background(), NewTurn("abc", "q", "a"), NewMeta("abc", "lead-1", 1, 1, "", "fr"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveTurn")
}

func TestSaveTurn_MissingTurnPK(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveTurn(context.Background(), domain.Turn{SK: "MSG#ts"}, NewMeta("abc", "lead-1", 1, 1, "", "fr"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "turn PK")
}

func TestSaveTurn_MissingMetaPK(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.SaveTurn(context.Background(), NewTurn("abc", "q", "a"), domain.ConversationMeta{SK: skMeta})
	require.Error(t, err)
	require.Contains(t, err.Error(), "meta PK")
}

func TestSaveCompletedTurn_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	q := domain.Qualification{LeadID: "lead-1", Turns: 2, Phase: 2, IdentifiedNeed: "Data Analysis", Language: "fr"}
	err := c.SaveCompletedTurn(context.Background(), "abc", "Analyse de données?", "Bien sûr.", q)
	require.NoError(t, err)
	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)
	metaPut := db.lastTxInput.TransactItems[1].Put
	require.Equal(t, "lead-1", metaPut.Item["leadId"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "2", metaPut.Item["turns"].(*types.AttributeValueMemberN).Value)
}

func TestSaveCompletedTurn_DynamoError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("transaction canceled")}
	c := mustNewClient(t, db)
	err := c.SaveCompletedTurn(context.Background(), "abc", "q", "a", domain.Qualification{LeadID: "lead-1", Turns: 1, Phase: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveCompletedTurn")
}

func TestSaveReport_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	score := 75
	require.NoError(t, c.SaveReport(context.Background(), "abc", "the report", &score))
	require.Equal(t, "CONV#abc", db.lastUpdateIn.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, *db.lastUpdateIn.UpdateExpression, "report")
	require.Contains(t, *db.lastUpdateIn.UpdateExpression, "fitScore")
}

func TestSaveReport_AbsentScore(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.SaveReport(context.Background(), "abc", "the report", nil))
	require.NotContains(t, *db.lastUpdateIn.UpdateExpression, "fitScore")
}

func TestSaveReport_UpdateError(t *testing.T) {
	db := &fakeDynamo{updateErr: errors.New("boom")}
	c := mustNewClient(t, db)
	err := c.SaveReport(context.Background(), "abc", "r", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "SaveReport")
}

func TestNewTurn_Fields(t *testing.T) {
	turn := NewTurn("conv-1", "Quelle est votre offre?", "Voici notre offre.")
	require.Equal(t, "CONV#conv-1", turn.PK)
	require.Contains(t, turn.SK, "MSG#")
	require.Equal(t, "Quelle est votre offre?", turn.Text)
	require.Equal(t, "Voici notre offre.", turn.Answer)
	require.Equal(t, "complete", turn.Status)
	require.Greater(t, turn.TTL, int64(0))
}

func TestNewMeta_Fields(t *testing.T) {
	meta := NewMeta("conv-2", "lead-9", 5, 3, "Data Analysis", "en")
	require.Equal(t, "CONV#conv-2", meta.PK)
	require.Equal(t, skMeta, meta.SK)
	require.Equal(t, "lead-9", meta.LeadID)
	require.Equal(t, 5, meta.Turns)
	require.Equal(t, 3, meta.Phase)
	require.Equal(t, "Data Analysis", meta.IdentifiedNeed)
	require.NotEmpty(t, meta.LastActivity)
}

func TestKeyHelpers(t *testing.T) {
	require.Equal(t, "CONV#my-conv", convPK("my-conv"))
	require.Equal(t, "LEAD#my-lead", leadPK("my-lead"))
	ts := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	require.Contains(t, msgSK(ts), "MSG#")
	require.Contains(t, msgSK(ts), "2026")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
