package transformer_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/ches/internal/model"
	"github.com/dmitrymomot/ches/internal/transformer"
)

func TestToStatusResponse_NullFields(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(transformer.ToStatusResponse(model.Message{}))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Len(t, got, 8)
	for _, key := range []string{"status", "tag", "createdTS", "updatedTS", "delayTS", "statusHistory"} {
		v, ok := got[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
}

func TestToStatusResponse(t *testing.T) {
	t.Parallel()

	created := time.Date(2019, 10, 21, 17, 42, 1, 833_000_000, time.UTC)
	desc := "text"
	tag := "tag"
	delay := int64(0)
	msg := model.Message{
		ID:            uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		TransactionID: uuid.MustParse("00000000-0000-0000-0000-000000000000"),
		Status:        model.StatusCompleted,
		Tag:           &tag,
		DelayTS:       &delay,
		CreatedAt:     created,
		UpdatedAt:     created,
		StatusHistory: []model.StatusEvent{
			{Status: "stuff", Description: &desc, CreatedAt: created},
			{Status: model.StatusAccepted, CreatedAt: created},
		},
	}

	got := transformer.ToStatusResponse(msg)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", got.TxID)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", got.MsgID)
	require.NotNil(t, got.Status)
	assert.Equal(t, model.StatusCompleted, *got.Status)
	require.NotNil(t, got.CreatedTS)
	assert.Equal(t, int64(1571679721833), *got.CreatedTS)
	require.NotNil(t, got.DelayTS)
	assert.Zero(t, *got.DelayTS)
	require.Len(t, got.StatusHistory, 2)
	assert.Equal(t, "text", *got.StatusHistory[0].Description)
	assert.Equal(t, int64(1571679721833), *got.StatusHistory[0].Timestamp)
	assert.Nil(t, got.StatusHistory[1].Description)
}

func TestToTransactionResponse(t *testing.T) {
	t.Parallel()

	trx := model.Transaction{
		ID: uuid.MustParse("00000000-0000-0000-0000-000000000000"),
		Messages: []model.Message{
			{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Content: &model.Content{Email: &model.Email{To: []string{"foo@example.com"}}}},
			{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Content: &model.Content{}},
		},
	}

	got := transformer.ToTransactionResponse(trx)
	assert.Equal(t, "00000000-0000-0000-0000-000000000000", got.TxID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", got.Messages[0].MsgID)
	assert.Equal(t, []string{"foo@example.com"}, got.Messages[0].To)
	assert.Equal(t, []string{}, got.Messages[1].To)
}

func TestToStatusResponses_NeverNil(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(transformer.ToStatusResponses(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))
}
