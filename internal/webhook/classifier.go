package webhook

import (
	"fmt"
	"iter"
)

const messagesField = "messages"

type Kind int

const (
	Ignored Kind = iota
	StatusUpdate
	InboundMessageEvent
)

func (k Kind) String() string {
	switch k {
	case StatusUpdate:
		return "status"
	case InboundMessageEvent:
		return "message"
	default:
		return "ignored"
	}
}

// Event is one classified sub-event of a webhook delivery. Exactly one of
// Status and Message is set for the matching Kind, unless Err is non-nil.
type Event struct {
	Kind  Kind
	Entry int
	Index int

	// Field is the change discriminator; for Ignored events it names what
	// was skipped.
	Field           string
	BusinessPhoneID string

	Status  *StatusEvent
	Message *InboundMessage

	// Err is set when the element could not be decoded. It only ever
	// affects this event.
	Err error
}

// Options tunes how a change is split into events.
type Options struct {
	// KeepMessagesWithStatuses also emits value.messages of a change that
	// carries statuses. By default statuses win and the messages of that
	// change are skipped.
	KeepMessagesWithStatuses bool
}

// Events classifies with the default Options.
func (p Payload) Events() iter.Seq[Event] {
	return p.Classify(Options{})
}

// Classify yields sub-events in entry, change, element order. Statuses of a
// change come before its messages.
func (p Payload) Classify(opts Options) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if p.Object == "" || len(p.Entry) == 0 {
			return
		}
		for ei, entry := range p.Entry {
			for _, change := range entry.Changes {
				if change.Field != messagesField {
					if !yield(Event{Kind: Ignored, Entry: ei, Field: change.Field}) {
						return
					}
					continue
				}
				if !yieldChange(ei, change, opts, yield) {
					return
				}
			}
		}
	}
}

func yieldChange(entry int, change Change, opts Options, yield func(Event) bool) bool {
	v := change.Value
	base := Event{Entry: entry, Field: change.Field, BusinessPhoneID: v.Metadata.PhoneNumberID}

	if v.HasStatuses || len(v.Statuses) > 0 {
		if v.StatusesErr != nil {
			evt := base
			evt.Kind, evt.Err = StatusUpdate, fmt.Errorf("value.statuses: %w", v.StatusesErr)
			if !yield(evt) {
				return false
			}
		}
		for i, raw := range v.Statuses {
			evt := base
			evt.Kind, evt.Index = StatusUpdate, i
			evt.Status, evt.Err = decodeStatus(raw)
			if !yield(evt) {
				return false
			}
		}
		if !opts.KeepMessagesWithStatuses {
			return true
		}
	}

	if v.MessagesErr != nil {
		evt := base
		evt.Kind, evt.Err = InboundMessageEvent, fmt.Errorf("value.messages: %w", v.MessagesErr)
		return yield(evt)
	}
	for i, raw := range v.Messages {
		evt := base
		evt.Kind, evt.Index = InboundMessageEvent, i
		evt.Message, evt.Err = decodeMessage(raw)
		if !yield(evt) {
			return false
		}
	}
	return true
}
