// Package payload implements the compact callback payload codec carried in
// quick replies, menu postbacks, and the persisted conversation position.
//
// Wire form:
//
//	<kind>/<state>/<action>[/<entity>:<id>]
//
// e.g. CHAT_CLB_QREP/MyChannels/DeleteChannel/ch:42. Decoding is strict: any
// deviation from the grammar yields nil rather than a best-effort guess,
// since payloads can arrive from stale clients and forged postbacks.
package payload

import (
	"strconv"
	"strings"
)

// Kind distinguishes the control surface the payload was issued for.
type Kind string

const (
	// QuickReply payloads ride on quick reply chips.
	QuickReply Kind = "CHAT_CLB_QREP"
	// Menu payloads ride on persistent menu and template buttons.
	Menu Kind = "CHAT_CLB_MENU"
	// Message payloads are the persisted form that registers a state for
	// free-text input capture.
	Message Kind = "CHAT_CLB_MSG"
)

// Entity kinds for the optional context segment.
const (
	EntityChannel = "ch"
	EntityAnnc    = "an"
)

// UsrInput is the action recorded in persisted Message payloads: the next
// inbound text is routed to the state's handler as user input.
const UsrInput = "UsrInput"

// Payload is the decoded form.
type Payload struct {
	Kind   Kind
	State  string
	Action string
	// Entity and EntityID are set only when the optional context segment
	// is present. Entity is EntityChannel or EntityAnnc.
	Entity   string
	EntityID int64
}

// Encode renders the wire form. The context segment is emitted only when
// Entity is set.
func Encode(p Payload) string {
	var b strings.Builder
	b.WriteString(string(p.Kind))
	b.WriteByte('/')
	b.WriteString(p.State)
	b.WriteByte('/')
	b.WriteString(p.Action)
	if p.Entity != "" {
		b.WriteByte('/')
		b.WriteString(p.Entity)
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(p.EntityID, 10))
	}
	return b.String()
}

// Decode parses the wire form. It returns nil for anything malformed: wrong
// segment count, unknown kind, empty state or action, or a bad context
// segment.
func Decode(raw string) *Payload {
	parts := strings.Split(raw, "/")
	if len(parts) < 3 || len(parts) > 4 {
		return nil
	}

	kind := Kind(parts[0])
	switch kind {
	case QuickReply, Menu, Message:
	default:
		return nil
	}

	p := &Payload{Kind: kind, State: parts[1], Action: parts[2]}
	if p.State == "" || p.Action == "" {
		return nil
	}

	if len(parts) == 4 {
		entity, idStr, ok := strings.Cut(parts[3], ":")
		if !ok {
			return nil
		}
		if entity != EntityChannel && entity != EntityAnnc {
			return nil
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil
		}
		p.Entity = entity
		p.EntityID = id
	}

	return p
}
