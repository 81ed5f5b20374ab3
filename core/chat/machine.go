package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/locano/channelbot/core/blob"
	"github.com/locano/channelbot/core/horn"
	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/messenger"
	"github.com/locano/channelbot/core/messenger/payload"
	"github.com/locano/channelbot/core/store"
	"log/slog"
)

// Deps are the collaborators conversation states act on.
type Deps struct {
	Store   store.Store
	Gateway messenger.Gateway
	Horn    *horn.Horn
	Blobs   blob.Store
}

// Machine drives one user's conversation turn. All resumable context lives
// in its fields, rehydrated from the decoded payload; there is no other
// session memory.
type Machine struct {
	reg  *Registry
	deps Deps

	user    *store.User
	channel *store.Channel
	annc    *store.Annc
	state   StateName

	lastPersisted string
}

// NewMachine rehydrates a machine from a decoded payload. A nil payload
// starts at Root. Entity references that point at deleted rows rehydrate as
// nil; handlers treat that as "entity vanished mid-conversation".
func NewMachine(ctx context.Context, reg *Registry, deps Deps, u *store.User, p *payload.Payload) (*Machine, error) {
	m := &Machine{
		reg:           reg,
		deps:          deps,
		user:          u,
		state:         StateRoot,
		lastPersisted: u.StatePayload,
	}
	if p == nil {
		return m, nil
	}
	m.state = StateName(p.State)

	switch p.Entity {
	case payload.EntityChannel:
		ch, err := deps.Store.Channels().ByID(ctx, p.EntityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("rehydrate channel: %w", err)
		}
		m.channel = ch
	case payload.EntityAnnc:
		a, err := deps.Store.Anncs().ByID(ctx, p.EntityID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("rehydrate annc: %w", err)
		}
		m.annc = a
		if a != nil {
			ch, err := deps.Store.Channels().ByID(ctx, a.ChID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("rehydrate annc channel: %w", err)
			}
			m.channel = ch
		}
	}
	return m, nil
}

// State returns the current state name.
func (m *Machine) State() StateName { return m.state }

// User returns the turn's user.
func (m *Machine) User() *store.User { return m.user }

// CallHandler interprets one inbound event for the current state. Quick
// reply and menu payloads run through helper, state action handler, CTA
// matching, and finally the default fallback; persisted message payloads go
// to the state's input handler.
func (m *Machine) CallHandler(ctx context.Context, ev messenger.Event, p *payload.Payload) error {
	spec, err := m.reg.Lookup(m.state)
	if err != nil {
		return err
	}
	if p == nil {
		// Free text with no registration; the initiator re-prompts.
		return nil
	}

	switch p.Kind {
	case payload.QuickReply, payload.Menu:
		return m.handleAction(ctx, spec, p, ev)
	case payload.Message:
		if spec.OnInput == nil {
			logger.LogEvent(ctx, logger.CHAT, slog.LevelDebug, "chat.input",
				slog.String("status", "skip"),
				slog.String("state", string(m.state)),
				slog.String("cause", "state does not await input"),
			)
			return nil
		}
		return spec.OnInput(ctx, m, p.Action, ev)
	}
	return nil
}

func (m *Machine) handleAction(ctx context.Context, spec StateSpec, p *payload.Payload, ev messenger.Event) error {
	action := p.Action

	if spec.Helper != nil && spec.HelperAction == action {
		_, err := spec.Helper(ctx, m, action, ev)
		return err
	}
	if spec.OnAction != nil {
		handled, err := spec.OnAction(ctx, m, action, ev)
		if err != nil || handled {
			return err
		}
	}
	for _, cta := range spec.CTAs {
		if cta.ActionID() == action && cta.Target != "" {
			logger.LogEvent(ctx, logger.CHAT, slog.LevelDebug, "chat.action",
				slog.String("state", string(m.state)),
				slog.String("action", action),
				slog.String("next_state", string(cta.Target)),
			)
			return m.SetState(ctx, cta.Target)
		}
	}
	return m.fallback(ctx, p)
}

// fallback trusts a button payload's action id as the next state, as long
// as the name is actually registered. Buttons from dropped states log and
// leave the conversation where it was.
func (m *Machine) fallback(ctx context.Context, p *payload.Payload) error {
	next := StateName(p.Action)
	if !m.reg.Has(next) {
		logger.LogEvent(ctx, logger.CHAT, slog.LevelWarn, "chat.fallback",
			slog.String("status", "skip"),
			slog.String("state", string(m.state)),
			slog.String("action", p.Action),
			slog.String("cause", "action names no registered state"),
		)
		return nil
	}
	logger.LogEvent(ctx, logger.CHAT, slog.LevelDebug, "chat.fallback",
		slog.String("state", string(m.state)),
		slog.String("next_state", string(next)),
	)
	return m.SetState(ctx, next)
}

// CallInitiator renders the prompt of whatever state is now current. If the
// initiator itself moved the conversation (its entity vanished on arrival),
// the destination is rendered instead; recovery only targets Root, whose
// initiator never transitions, so this cannot loop.
func (m *Machine) CallInitiator(ctx context.Context) error {
	spec, err := m.reg.Lookup(m.state)
	if err != nil {
		return err
	}
	if spec.Initiator != nil {
		prev := m.state
		if err := spec.Initiator(ctx, m); err != nil {
			return err
		}
		if m.state != prev {
			return m.CallInitiator(ctx)
		}
		return nil
	}
	return m.Send(ctx, Text(spec.Prompt))
}

// SetState transitions to the named state and persists the new resumption
// payload. Setting the current state again is a no-op: no write, no second
// input registration.
func (m *Machine) SetState(ctx context.Context, next StateName) error {
	if next == m.state {
		return nil
	}
	if !m.reg.Has(next) {
		return fmt.Errorf("%w: %s", ErrStateNotRegistered, next)
	}
	m.state = next
	return m.Persist(ctx)
}

// Persist writes the encoded resumption payload onto the user record. The
// payload is tagged as a message callback with the UsrInput action: the next
// bare text message resumes exactly here. Identical payloads are not
// rewritten.
func (m *Machine) Persist(ctx context.Context) error {
	p := payload.Payload{
		Kind:   payload.Message,
		State:  string(m.state),
		Action: payload.UsrInput,
	}
	if ent, id := m.entityRef(); ent != "" {
		p.Entity, p.EntityID = ent, id
	}
	encoded := payload.Encode(p)
	if encoded == m.lastPersisted {
		return nil
	}
	if err := m.deps.Store.Users().Update(ctx, m.user.ID, store.UserPatch{StatePayload: &encoded}); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	m.user.StatePayload = encoded
	m.lastPersisted = encoded
	return nil
}

// SetChannel anchors the conversation on a channel.
func (m *Machine) SetChannel(c *store.Channel) {
	m.channel = c
	m.annc = nil
}

// SetAnnc anchors the conversation on an announcement; its channel is
// derived, never set independently.
func (m *Machine) SetAnnc(a *store.Annc, c *store.Channel) {
	m.annc = a
	m.channel = c
}

// ClearContext drops the carried entity references, used when a flow ends.
func (m *Machine) ClearContext() {
	m.channel = nil
	m.annc = nil
}

func (m *Machine) entityRef() (string, int64) {
	if m.annc != nil {
		return payload.EntityAnnc, m.annc.ID
	}
	if m.channel != nil {
		return payload.EntityChannel, m.channel.ID
	}
	return "", 0
}

// Send delivers text with the current state's quick replies attached.
func (m *Machine) Send(ctx context.Context, text string) error {
	spec, err := m.reg.Lookup(m.state)
	if err != nil {
		return err
	}
	return m.SendWithCTAs(ctx, text, spec.CTAs)
}

// SendPlain delivers text without quick replies.
func (m *Machine) SendPlain(ctx context.Context, text string) error {
	return m.deps.Gateway.SendText(ctx, m.user.FBID, text, nil)
}

// SendWithCTAs delivers text with an explicit choice set.
func (m *Machine) SendWithCTAs(ctx context.Context, text string, ctas []CTA) error {
	return m.deps.Gateway.SendText(ctx, m.user.FBID, text, m.quickReplies(ctas))
}

// quickReplies encodes the CTA set for the current state, carrying the
// current entity so a tap re-anchors context without a lookup.
func (m *Machine) quickReplies(ctas []CTA) []messenger.QuickReply {
	if len(ctas) == 0 {
		return nil
	}
	ent, id := m.entityRef()
	out := make([]messenger.QuickReply, 0, len(ctas))
	for _, cta := range ctas {
		p := payload.Payload{
			Kind:   payload.QuickReply,
			State:  string(m.state),
			Action: cta.ActionID(),
		}
		if ent != "" {
			p.Entity, p.EntityID = ent, id
		}
		out = append(out, messenger.QuickReply{
			Title:   Text(cta.Title),
			Payload: payload.Encode(p),
		})
	}
	return out
}
