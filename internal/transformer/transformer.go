// Package transformer shapes entities into caller-facing responses.
// Timestamps are epoch milliseconds; absent values are rendered as null.
package transformer

import (
	"time"

	"github.com/dmitrymomot/ches/internal/model"
)

// TransactionResponse is returned by the send endpoints.
type TransactionResponse struct {
	TxID     string            `json:"txId"`
	Messages []MessageResponse `json:"messages"`
}

// MessageResponse identifies one created message.
type MessageResponse struct {
	MsgID string   `json:"msgId"`
	To    []string `json:"to"`
	Tag   *string  `json:"tag"`
}

// StatusResponse is the status view of one message.
type StatusResponse struct {
	TxID          string          `json:"txId"`
	MsgID         string          `json:"msgId"`
	Status        *string         `json:"status"`
	Tag           *string         `json:"tag"`
	CreatedTS     *int64          `json:"createdTS"`
	UpdatedTS     *int64          `json:"updatedTS"`
	DelayTS       *int64          `json:"delayTS"`
	StatusHistory []StatusHistory `json:"statusHistory"`
}

// StatusHistory is one entry of StatusResponse.StatusHistory.
type StatusHistory struct {
	Status      string  `json:"status"`
	Description *string `json:"description"`
	Timestamp   *int64  `json:"timestamp"`
}

// ToTransactionResponse converts a created transaction.
func ToTransactionResponse(trx model.Transaction) TransactionResponse {
	out := TransactionResponse{
		TxID:     trx.ID.String(),
		Messages: make([]MessageResponse, 0, len(trx.Messages)),
	}
	for _, msg := range trx.Messages {
		m := MessageResponse{MsgID: msg.ID.String(), To: []string{}, Tag: msg.Tag}
		if msg.Content != nil && msg.Content.Email != nil && msg.Content.Email.To != nil {
			m.To = msg.Content.Email.To
		}
		out.Messages = append(out.Messages, m)
	}
	return out
}

// ToStatusResponse converts a message. A nil StatusHistory on the message
// stays null in the response.
func ToStatusResponse(msg model.Message) StatusResponse {
	out := StatusResponse{
		TxID:      msg.TransactionID.String(),
		MsgID:     msg.ID.String(),
		Tag:       msg.Tag,
		CreatedTS: millis(msg.CreatedAt),
		UpdatedTS: millis(msg.UpdatedAt),
		DelayTS:   msg.DelayTS,
	}
	if msg.Status != "" {
		out.Status = &msg.Status
	}
	if msg.StatusHistory != nil {
		out.StatusHistory = make([]StatusHistory, 0, len(msg.StatusHistory))
		for _, ev := range msg.StatusHistory {
			out.StatusHistory = append(out.StatusHistory, StatusHistory{
				Status:      ev.Status,
				Description: ev.Description,
				Timestamp:   millis(ev.CreatedAt),
			})
		}
	}
	return out
}

// ToStatusResponses converts a message list; the result is never nil.
func ToStatusResponses(msgs []model.Message) []StatusResponse {
	out := make([]StatusResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, ToStatusResponse(msg))
	}
	return out
}

func millis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
