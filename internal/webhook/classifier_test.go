package webhook

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, body string) []Event {
	t.Helper()
	p, err := Decode([]byte(body))
	require.NoError(t, err)
	return slices.Collect(p.Events())
}

func TestEvents_MissingObjectOrEntryYieldsNothing(t *testing.T) {
	cases := map[string]string{
		"empty object":  `{}`,
		"no object":     `{"entry":[{"changes":[{"field":"messages","value":{"messages":[{"id":"x"}]}}]}]}`,
		"no entry":      `{"object":"whatsapp_business_account"}`,
		"empty entry":   `{"object":"whatsapp_business_account","entry":[]}`,
		"no changes":    `{"object":"whatsapp_business_account","entry":[{"id":"1"}]}`,
		"no value list": `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{}}]}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, collect(t, body))
		})
	}
}

func TestEvents_InboundMessages(t *testing.T) {
	body := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "WABA",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550000000", "phone_number_id": "999"},
					"messages": [
						{"id": "wamid.1", "from": "15551234567", "timestamp": "1700000000", "type": "text", "text": {"body": "hi"}},
						{"id": "wamid.2", "from": "15551234567", "timestamp": "1700000001", "errors": [{"code": 131051}]}
					]
				}
			}]
		}]
	}`

	events := collect(t, body)
	require.Len(t, events, 2)

	for i, e := range events {
		assert.Equal(t, InboundMessageEvent, e.Kind)
		assert.Equal(t, "999", e.BusinessPhoneID)
		assert.Equal(t, i, e.Index)
		require.NoError(t, e.Err)
		require.NotNil(t, e.Message)
		assert.Nil(t, e.Status)
	}

	assert.Equal(t, "wamid.1", events[0].Message.ID)
	assert.Equal(t, "15551234567", events[0].Message.From)
	assert.False(t, events[0].Message.HasErrors())
	assert.JSONEq(t, `{"id": "wamid.1", "from": "15551234567", "timestamp": "1700000000", "type": "text", "text": {"body": "hi"}}`, string(events[0].Message.Raw))

	assert.True(t, events[1].Message.HasErrors())
}

func TestEvents_Statuses(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{
		"metadata":{"phone_number_id":"999"},
		"statuses":[
			{"id":"wamid.1","status":"sent","timestamp":"1700000050","recipient_id":"15551234567"},
			{"id":"wamid.1","status":"delivered","timestamp":1700000100}
		]}}]}]}`

	events := collect(t, body)
	require.Len(t, events, 2)
	assert.Equal(t, StatusUpdate, events[0].Kind)
	assert.Equal(t, "sent", events[0].Status.Status)
	assert.Equal(t, "delivered", events[1].Status.Status)

	ts, err := events[1].Status.Timestamp.Time()
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), ts)
}

func TestEvents_OrderAcrossEntriesAndChanges(t *testing.T) {
	body := `{"object":"x","entry":[
		{"changes":[
			{"field":"messages","value":{"statuses":[{"id":"a","status":"sent","timestamp":"1"}]}},
			{"field":"account_update","value":{}}
		]},
		{"changes":[
			{"field":"messages","value":{"messages":[{"id":"b","from":"1","timestamp":"2"}]}}
		]}
	]}`

	events := collect(t, body)
	require.Len(t, events, 3)
	assert.Equal(t, StatusUpdate, events[0].Kind)
	assert.Equal(t, 0, events[0].Entry)
	assert.Equal(t, Ignored, events[1].Kind)
	assert.Equal(t, "account_update", events[1].Field)
	assert.Equal(t, InboundMessageEvent, events[2].Kind)
	assert.Equal(t, 1, events[2].Entry)
}

func TestEvents_StatusesWinInMixedChange(t *testing.T) {
	body := `{"object":"x","entry":[{"changes":[{"field":"messages","value":{
		"messages":[{"id":"m","from":"1","timestamp":"2"}],
		"statuses":[{"id":"s","status":"read","timestamp":"3"}]
	}}]}]}`

	events := collect(t, body)
	require.Len(t, events, 1)
	assert.Equal(t, StatusUpdate, events[0].Kind)
	assert.Equal(t, "s", events[0].Status.ID)

	p, err := Decode([]byte(body))
	require.NoError(t, err)
	both := slices.Collect(p.Classify(Options{KeepMessagesWithStatuses: true}))
	require.Len(t, both, 2)
	assert.Equal(t, StatusUpdate, both[0].Kind)
	assert.Equal(t, InboundMessageEvent, both[1].Kind)
	assert.Equal(t, "m", both[1].Message.ID)
}

func TestEvents_StatusesKeyTruthiness(t *testing.T) {
	messages := `"messages":[{"id":"m","from":"1","timestamp":"2"}]`
	cases := []struct {
		name     string
		statuses string
		want     []Kind
	}{
		{"empty list wins", `[]`, nil},
		{"null is unset", `null`, []Kind{InboundMessageEvent}},
		{"false is unset", `false`, []Kind{InboundMessageEvent}},
		{"empty string is unset", `""`, []Kind{InboundMessageEvent}},
		{"zero is unset", `0`, []Kind{InboundMessageEvent}},
		{"object wins as one bad status", `{"id":"s"}`, []Kind{StatusUpdate}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := `{"object":"x","entry":[{"changes":[{"field":"messages","value":{` +
				`"statuses":` + tc.statuses + `,` + messages + `}}]}]}`

			var kinds []Kind
			for _, e := range collect(t, body) {
				kinds = append(kinds, e.Kind)
			}
			assert.Equal(t, tc.want, kinds)
		})
	}
}

func TestEvents_MalformedListIsIsolated(t *testing.T) {
	body := `{"object":"x","entry":[
		{"changes":[{"field":"messages","value":{"statuses":{"id":"s","status":"read"}}}]},
		{"changes":[{"field":"messages","value":{"messages":"nope"}}]},
		{"changes":[{"field":"messages","value":{"messages":[{"id":"ok","from":"1","timestamp":"2"}]}}]}
	]}`

	events := collect(t, body)
	require.Len(t, events, 3)

	assert.Equal(t, StatusUpdate, events[0].Kind)
	assert.ErrorIs(t, events[0].Err, ErrNotAList)
	assert.Nil(t, events[0].Status)

	assert.Equal(t, InboundMessageEvent, events[1].Kind)
	assert.ErrorIs(t, events[1].Err, ErrNotAList)

	require.NoError(t, events[2].Err)
	assert.Equal(t, "ok", events[2].Message.ID)
	assert.Equal(t, 2, events[2].Entry)
}

func TestEvents_BadElementIsIsolated(t *testing.T) {
	body := `{"object":"x","entry":[{"changes":[{"field":"messages","value":{
		"messages":["not-an-object", {"id":"ok","from":"1","timestamp":"2"}]
	}}]}]}`

	events := collect(t, body)
	require.Len(t, events, 2)
	assert.Error(t, events[0].Err)
	assert.Nil(t, events[0].Message)
	require.NoError(t, events[1].Err)
	assert.Equal(t, "ok", events[1].Message.ID)
}

func TestEvents_StopsWhenConsumerBreaks(t *testing.T) {
	p, err := Decode([]byte(`{"object":"x","entry":[{"changes":[{"field":"messages","value":{
		"statuses":[{"id":"1"},{"id":"2"},{"id":"3"}]}}]}]}`))
	require.NoError(t, err)

	n := 0
	for range p.Events() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}


func TestTimestamp_Time(t *testing.T) {
	cases := []struct {
		name    string
		in      Timestamp
		want    time.Time
		wantErr bool
	}{
		{"epoch", "1700000000", time.Unix(1700000000, 0).UTC(), false},
		{"missing", "", time.Time{}, true},
		{"garbage", "yesterday", time.Time{}, true},
		{"fractional", "1700000000.5", time.Time{}, true},
		{"negative in range", "-86400", time.Unix(-86400, 0).UTC(), false},
		{"year 9999", "253402300799", time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC), false},
		{"past year 9999", "99999999999999", time.Time{}, true},
		{"before year 1", "-62135596801", time.Time{}, true},
		{"overflows int64", "99999999999999999999", time.Time{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.Time()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTimestamp)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestInboundMessage_HasErrors(t *testing.T) {
	assert.False(t, InboundMessage{}.HasErrors())
	assert.False(t, InboundMessage{Errors: []byte("null")}.HasErrors())
	assert.True(t, InboundMessage{Errors: []byte("[]")}.HasErrors())
	assert.True(t, InboundMessage{Errors: []byte(`[{"code":1}]`)}.HasErrors())
}
