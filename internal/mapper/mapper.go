// Package mapper turns classified webhook events and acknowledged sends into
// ledger records and status patches.
package mapper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeventeLantos/wa-ledger/internal/model"
	"github.com/LeventeLantos/wa-ledger/internal/webhook"
)

var (
	ErrMissingMessageID = errors.New("missing message id")
	ErrWrongKind        = errors.New("event kind does not match mapping")
)

// Inbound maps a received message. Status is failed when the element
// carried an errors field, ok otherwise.
func Inbound(evt webhook.Event) (model.LedgerRecord, error) {
	if evt.Err != nil {
		return model.LedgerRecord{}, evt.Err
	}
	if evt.Kind != webhook.InboundMessageEvent || evt.Message == nil {
		return model.LedgerRecord{}, fmt.Errorf("%w: %s", ErrWrongKind, evt.Kind)
	}
	m := evt.Message

	if strings.TrimSpace(m.ID) == "" {
		return model.LedgerRecord{}, ErrMissingMessageID
	}
	createdAt, err := m.Timestamp.Time()
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("message %s: %w", m.ID, err)
	}

	status := model.StatusOK
	if m.HasErrors() {
		status = model.StatusFailed
	}

	return model.LedgerRecord{
		Type:            model.Received,
		MessageID:       m.ID,
		Contact:         m.From,
		BusinessPhoneID: evt.BusinessPhoneID,
		Message:         m.Raw,
		Status:          status,
		CreatedAt:       createdAt,
	}, nil
}

// Status maps a delivery status notification. The reported status string is
// passed through without validation.
func Status(evt webhook.Event) (model.StatusPatch, error) {
	if evt.Err != nil {
		return model.StatusPatch{}, evt.Err
	}
	if evt.Kind != webhook.StatusUpdate || evt.Status == nil {
		return model.StatusPatch{}, fmt.Errorf("%w: %s", ErrWrongKind, evt.Kind)
	}
	s := evt.Status

	if strings.TrimSpace(s.ID) == "" {
		return model.StatusPatch{}, ErrMissingMessageID
	}
	updatedAt, err := s.Timestamp.Time()
	if err != nil {
		return model.StatusPatch{}, fmt.Errorf("status %s: %w", s.ID, err)
	}

	return model.StatusPatch{
		MessageID: s.ID,
		Status:    model.Status(s.Status),
		UpdatedAt: updatedAt,
	}, nil
}

type outboundPayload struct {
	To string `json:"to"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MessageIDFromResponse returns the first id of a send response body.
func MessageIDFromResponse(body []byte) (string, error) {
	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if len(sr.Messages) == 0 || strings.TrimSpace(sr.Messages[0].ID) == "" {
		return "", fmt.Errorf("%w in response body=%q", ErrMissingMessageID, string(body))
	}
	return sr.Messages[0].ID, nil
}

// Sent maps an outbound message the remote API acknowledged. sentAt is the
// wall-clock time of the acknowledgment.
func Sent(businessPhoneID string, payload, response []byte, sentAt time.Time) (model.LedgerRecord, error) {
	messageID, err := MessageIDFromResponse(response)
	if err != nil {
		return model.LedgerRecord{}, err
	}

	var out outboundPayload
	if err := json.Unmarshal(payload, &out); err != nil {
		return model.LedgerRecord{}, fmt.Errorf("decode outbound payload: %w", err)
	}

	return model.LedgerRecord{
		Type:            model.Sent,
		MessageID:       messageID,
		Contact:         out.To,
		BusinessPhoneID: businessPhoneID,
		Message:         json.RawMessage(bytes.Clone(payload)),
		Status:          model.StatusInitiated,
		CreatedAt:       sentAt.UTC(),
	}, nil
}
