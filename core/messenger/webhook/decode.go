package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/locano/channelbot/core/messenger"
)

// batch is the platform webhook envelope. One POST can carry events for
// several users interleaved across entries.
type batch struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []messaging `json:"messaging"`
}

type messaging struct {
	Sender    party     `json:"sender"`
	Recipient party     `json:"recipient"`
	Timestamp int64     `json:"timestamp"`
	Message   *message  `json:"message"`
	Postback  *postback `json:"postback"`
	Referral  *referral `json:"referral"`
}

type party struct {
	ID string `json:"id"`
}

type message struct {
	MID         string       `json:"mid"`
	Seq         int64        `json:"seq"`
	Text        string       `json:"text"`
	QuickReply  *quickReply  `json:"quick_reply"`
	Attachments []attachment `json:"attachments"`
}

type quickReply struct {
	Payload string `json:"payload"`
}

type attachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type postback struct {
	Payload  string    `json:"payload"`
	Referral *referral `json:"referral"`
}

type referral struct {
	Ref    string `json:"ref"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// decodeBatch parses the webhook body into normalized events, in arrival
// order. Messaging items that carry nothing actionable (delivery receipts,
// read marks) are skipped.
func decodeBatch(body []byte) ([]messenger.Event, error) {
	var b batch
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode webhook batch: %w", err)
	}
	if b.Object != "page" {
		return nil, fmt.Errorf("unexpected webhook object %q", b.Object)
	}

	var events []messenger.Event
	for _, e := range b.Entry {
		for _, m := range e.Messaging {
			if ev, ok := toEvent(m); ok {
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func toEvent(m messaging) (messenger.Event, bool) {
	ev := messenger.Event{
		SenderID:  m.Sender.ID,
		Timestamp: m.Timestamp,
		Seq:       m.Timestamp,
	}
	if ev.SenderID == "" {
		return ev, false
	}

	switch {
	case m.Message != nil:
		if m.Message.Seq != 0 {
			ev.Seq = m.Message.Seq
		}
		switch {
		case m.Message.QuickReply != nil:
			ev.Kind = messenger.KindQuickReply
			ev.Payload = m.Message.QuickReply.Payload
			ev.Text = m.Message.Text
		case len(m.Message.Attachments) > 0:
			ev.Kind = messenger.KindAttachment
			for _, a := range m.Message.Attachments {
				ev.Attachments = append(ev.Attachments, messenger.Attachment{
					Type: a.Type,
					URL:  a.Payload.URL,
				})
			}
		case m.Message.Text != "":
			ev.Kind = messenger.KindText
			ev.Text = m.Message.Text
		default:
			return ev, false
		}
	case m.Postback != nil:
		// A postback carrying a referral is how deep links reach users
		// who have not talked to the page before.
		if m.Postback.Referral != nil && m.Postback.Referral.Ref != "" {
			ev.Kind = messenger.KindReferral
			ev.Ref = m.Postback.Referral.Ref
		} else {
			ev.Kind = messenger.KindPostback
			ev.Payload = m.Postback.Payload
		}
	case m.Referral != nil:
		ev.Kind = messenger.KindReferral
		ev.Ref = m.Referral.Ref
	default:
		return ev, false
	}

	return ev, true
}
