package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrNotAList         = errors.New("expected a JSON array")
)

// Payload is the POST body of a Cloud API webhook delivery. Only the fields
// read by the pipeline are typed; message and status elements stay raw.
//
// Decoding is lenient below the top level: a field of the wrong shape reads
// as absent, so one odd entry never hides its siblings.
type Payload struct {
	Object string
	Entry  []Entry
}

type Entry struct {
	ID      string
	Changes []Change
}

type Change struct {
	Field string
	Value Value
}

type Value struct {
	Metadata Metadata
	Statuses []json.RawMessage
	Messages []json.RawMessage

	// HasStatuses is true when the statuses key holds anything other than
	// null, false, 0 or "", even if it is not a list.
	HasStatuses bool
	HasMessages bool

	// StatusesErr and MessagesErr are set when the key holds something
	// other than a list.
	StatusesErr error
	MessagesErr error
}

type Metadata struct {
	DisplayPhoneNumber string
	PhoneNumberID      string
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	var aux struct {
		Object json.RawMessage `json:"object"`
		Entry  json.RawMessage `json:"entry"`
	}
	*p = Payload{}
	if json.Unmarshal(b, &aux) != nil {
		return nil
	}
	p.Object = text(aux.Object)
	items, _ := list(aux.Entry)
	for _, raw := range items {
		var e Entry
		_ = json.Unmarshal(raw, &e)
		p.Entry = append(p.Entry, e)
	}
	return nil
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var aux struct {
		ID      json.RawMessage `json:"id"`
		Changes json.RawMessage `json:"changes"`
	}
	*e = Entry{}
	if json.Unmarshal(b, &aux) != nil {
		return nil
	}
	e.ID = text(aux.ID)
	items, _ := list(aux.Changes)
	for _, raw := range items {
		var c Change
		_ = json.Unmarshal(raw, &c)
		e.Changes = append(e.Changes, c)
	}
	return nil
}

func (c *Change) UnmarshalJSON(b []byte) error {
	var aux struct {
		Field json.RawMessage `json:"field"`
		Value json.RawMessage `json:"value"`
	}
	*c = Change{}
	if json.Unmarshal(b, &aux) != nil {
		return nil
	}
	c.Field = text(aux.Field)
	if len(aux.Value) > 0 {
		_ = json.Unmarshal(aux.Value, &c.Value)
	}
	return nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var aux struct {
		Metadata json.RawMessage `json:"metadata"`
		Statuses json.RawMessage `json:"statuses"`
		Messages json.RawMessage `json:"messages"`
	}
	*v = Value{}
	if json.Unmarshal(b, &aux) != nil {
		return nil
	}
	if len(aux.Metadata) > 0 {
		_ = json.Unmarshal(aux.Metadata, &v.Metadata)
	}
	v.HasStatuses = set(aux.Statuses)
	v.Statuses, v.StatusesErr = list(aux.Statuses)
	v.HasMessages = set(aux.Messages)
	v.Messages, v.MessagesErr = list(aux.Messages)
	return nil
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var aux struct {
		DisplayPhoneNumber json.RawMessage `json:"display_phone_number"`
		PhoneNumberID      json.RawMessage `json:"phone_number_id"`
	}
	*m = Metadata{}
	if json.Unmarshal(b, &aux) != nil {
		return nil
	}
	m.DisplayPhoneNumber = text(aux.DisplayPhoneNumber)
	m.PhoneNumberID = text(aux.PhoneNumberID)
	return nil
}

// set reports whether raw holds a value other than null, false, zero or the
// empty string.
func set(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", `""`:
		return false
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil && f == 0 {
		return false
	}
	return true
}

// list splits a JSON array into its elements. Unset values are empty.
func list(raw json.RawMessage) ([]json.RawMessage, error) {
	if !set(raw) {
		return nil, nil
	}
	raw = bytes.TrimSpace(raw)
	if raw[0] != '[' {
		return nil, fmt.Errorf("%w, got %.32s", ErrNotAList, raw)
	}
	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// text reads a JSON string, or a number as its literal digits. Any other
// shape reads as empty.
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			return n.String()
		}
	}
	return ""
}

// InboundMessage is a received user message. Raw holds the element exactly
// as delivered.
type InboundMessage struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Timestamp Timestamp       `json:"timestamp"`
	Errors    json.RawMessage `json:"errors"`

	Raw json.RawMessage `json:"-"`
}

// HasErrors reports whether the element carried a non-null errors field.
func (m InboundMessage) HasErrors() bool {
	e := bytes.TrimSpace(m.Errors)
	return len(e) > 0 && !bytes.Equal(e, []byte("null"))
}

type StatusEvent struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Timestamp   Timestamp `json:"timestamp"`
	RecipientID string    `json:"recipient_id"`

	Raw json.RawMessage `json:"-"`
}

// Timestamp is epoch seconds, delivered as a JSON string or number.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = Timestamp(n.String())
	return nil
}

// Accepted epoch range: years 0001 through 9999. Postgres and RFC 3339
// both handle every instant in it.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
)

// Time converts the epoch-seconds value to UTC.
func (t Timestamp) Time() (time.Time, error) {
	if t == "" {
		return time.Time{}, fmt.Errorf("%w: missing", ErrInvalidTimestamp)
	}
	secs, err := strconv.ParseInt(string(t), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, string(t))
	}
	if secs < minEpochSeconds || secs > maxEpochSeconds {
		return time.Time{}, fmt.Errorf("%w: %q out of range", ErrInvalidTimestamp, string(t))
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Decode parses a webhook body. Only syntactically invalid JSON is an
// error; an empty body, a non-object top level and absent or mistyped
// fields all decode to a payload with nothing in it.
func Decode(body []byte) (Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	return p, nil
}

func decodeMessage(raw json.RawMessage) (*InboundMessage, error) {
	var m InboundMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	m.Raw = raw
	return &m, nil
}

func decodeStatus(raw json.RawMessage) (*StatusEvent, error) {
	var s StatusEvent
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	s.Raw = raw
	return &s, nil
}
