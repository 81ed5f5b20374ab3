package chat

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/mail"
	"github.com/locano/channelbot/core/messenger"
	"github.com/locano/channelbot/core/messenger/payload"
	"github.com/locano/channelbot/core/store"
	"log/slog"
)

// Engine turns inbound events into conversation turns: resolve the user,
// enforce per-user ordering, decode the resumption payload, run the machine,
// persist. One Dispatch call per event; the webhook serializes calls per
// batch entry, and ordering across restarts rides on the persisted sequence.
type Engine struct {
	reg   *Registry
	deps  Deps
	alert mail.Alerter
}

// NewEngine wires the conversation engine.
func NewEngine(reg *Registry, deps Deps, alert mail.Alerter) *Engine {
	if alert == nil {
		alert = mail.Nop{}
	}
	return &Engine{reg: reg, deps: deps, alert: alert}
}

// Dispatch processes one inbound event end to end. Handler failures never
// propagate to the webhook: the user gets an apology, the conversation is
// reset to Root, and the operator gets mail. Only failures before the turn
// starts (user resolution, sequence persistence) bubble up.
func (e *Engine) Dispatch(ctx context.Context, ev messenger.Event) error {
	ctx = logger.WithHandler(ctx, "chat")

	user, created, err := e.resolveUser(ctx, ev)
	if err != nil {
		return err
	}

	// Ordering gate. Events are dispatched in arrival order but the platform
	// may redeliver; anything at or below the persisted sequence already ran.
	if ev.Seq <= user.MsgSeq {
		logger.LogEvent(ctx, logger.CHAT, slog.LevelDebug, "chat.event",
			slog.String("status", "skip"),
			slog.Int64("seq", ev.Seq),
			slog.Int64("last_seq", user.MsgSeq),
			slog.String("cause", "stale event"),
		)
		return nil
	}
	seq := ev.Seq
	if err := e.deps.Store.Users().Update(ctx, user.ID, store.UserPatch{MsgSeq: &seq}); err != nil {
		return fmt.Errorf("persist msg_seq: %w", err)
	}
	user.MsgSeq = seq

	if err := e.runTurn(ctx, user, ev, created); err != nil {
		e.recoverTurn(ctx, user, ev, err)
	}
	return nil
}

// runTurn is the fallible part of Dispatch. Panics in state handlers are
// turned into errors here so recovery treats both the same way.
func (e *Engine) runTurn(ctx context.Context, user *store.User, ev messenger.Event, created bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn panic: %v\n%s", r, debug.Stack())
		}
	}()

	if created {
		if err := e.deps.Gateway.SendText(ctx, user.FBID,
			Format(SIDGreeting, map[string]string{"user_first_name": user.FirstName}), nil); err != nil {
			return err
		}
	}

	if ev.Kind == messenger.KindReferral {
		return e.handleReferral(ctx, user, ev)
	}

	p, malformed := e.decodeTurnPayload(ctx, user, ev)

	m, err := NewMachine(ctx, e.reg, e.deps, user, p)
	if err != nil {
		return err
	}
	if malformed {
		// A button we cannot interpret. Apologize and re-render whatever
		// state the user record says they are in.
		if err := m.SendPlain(ctx, Text(SIDDontUnderstand)); err != nil {
			return err
		}
	} else {
		if err := m.CallHandler(ctx, ev, p); err != nil {
			return err
		}
	}
	if err := m.CallInitiator(ctx); err != nil {
		return err
	}
	return m.Persist(ctx)
}

// decodeTurnPayload picks the payload the turn runs on. Button taps carry
// their own; free text and attachments resume from the persisted one. A
// malformed button payload falls back to the persisted state with the
// malformed flag raised.
func (e *Engine) decodeTurnPayload(ctx context.Context, user *store.User, ev messenger.Event) (*payload.Payload, bool) {
	switch ev.Kind {
	case messenger.KindQuickReply, messenger.KindPostback:
		if p := payload.Decode(ev.Payload); p != nil {
			return p, false
		}
		logger.LogEvent(ctx, logger.CHAT, slog.LevelWarn, "chat.payload",
			slog.String("status", "skip"),
			slog.String("payload", ev.Payload),
			slog.String("cause", "malformed callback payload"),
		)
		return payload.Decode(user.StatePayload), true
	default:
		if user.StatePayload == "" {
			return nil, false
		}
		p := payload.Decode(user.StatePayload)
		if p == nil {
			logger.LogEvent(ctx, logger.CHAT, slog.LevelWarn, "chat.payload",
				slog.String("status", "skip"),
				slog.String("payload", user.StatePayload),
				slog.String("cause", "malformed persisted payload"),
			)
		}
		return p, false
	}
}

// handleReferral runs subscription deep links: a "sub" key carries the
// channel code the m.me link or scannable code was generated for.
func (e *Engine) handleReferral(ctx context.Context, user *store.User, ev messenger.Event) error {
	refs := parseRef(ev.Ref)
	if raw, ok := refs["sub"]; ok {
		if err := e.referralSubscribe(ctx, user, raw); err != nil {
			return err
		}
	} else {
		logger.LogEvent(ctx, logger.CHAT, slog.LevelDebug, "chat.referral",
			slog.String("status", "skip"),
			slog.String("ref", ev.Ref),
			slog.String("cause", "no recognized keys"),
		)
	}

	m, err := NewMachine(ctx, e.reg, e.deps, user, nil)
	if err != nil {
		return err
	}
	if err := m.CallInitiator(ctx); err != nil {
		return err
	}
	return m.Persist(ctx)
}

func (e *Engine) referralSubscribe(ctx context.Context, user *store.User, raw string) error {
	uchid := store.ParseUCHID(raw)
	if uchid == "" {
		return e.deps.Gateway.SendText(ctx, user.FBID,
			Format(SIDChannelNotFound, map[string]string{"channel_id": raw}), nil)
	}
	ch, err := e.deps.Store.Channels().ByUCHID(ctx, uchid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.deps.Gateway.SendText(ctx, user.FBID,
				Format(SIDChannelNotFound, map[string]string{"channel_id": store.FormatUCHID(uchid)}), nil)
		}
		return err
	}
	if user.Subscribed(ch.ID) || ch.HasSub(user.ID) {
		return e.deps.Gateway.SendText(ctx, user.FBID,
			Format(SIDSubExists, map[string]string{"channel_name": ch.Name}), nil)
	}
	if _, err := e.deps.Store.Subscribe(ctx, user.ID, ch.ID); err != nil {
		return err
	}
	user.Subscriptions = append(user.Subscriptions, ch.ID)
	logger.LogEvent(ctx, logger.CHAT, slog.LevelInfo, "chat.referral",
		slog.String("status", "ok"),
		slog.Int64("chid", ch.ID),
	)
	return e.deps.Gateway.SendText(ctx, user.FBID,
		Format(SIDSubscribed, map[string]string{"channel_name": ch.Name}), nil)
}

// parseRef splits "key:value;key:value" referral data. Unknown keys are kept
// so callers can log them.
func parseRef(ref string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(ref, ";") {
		if k, v, ok := strings.Cut(part, ":"); ok && k != "" {
			out[k] = v
		}
	}
	return out
}

// resolveUser loads the sender, creating the record on first contact. The
// profile fetch is best effort: a Send API hiccup must not block the very
// first turn.
func (e *Engine) resolveUser(ctx context.Context, ev messenger.Event) (*store.User, bool, error) {
	u, err := e.deps.Store.Users().ByFBID(ctx, ev.SenderID)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("resolve user: %w", err)
	}

	u = &store.User{FBID: ev.SenderID}
	if prof, perr := e.deps.Gateway.Profile(ctx, ev.SenderID); perr != nil {
		logger.LogEvent(ctx, logger.CHAT, slog.LevelWarn, "chat.profile",
			slog.String("status", "fail"),
			slog.String("err", perr.Error()),
		)
	} else {
		u.FirstName = prof.FirstName
		u.LastName = prof.LastName
		u.Locale = prof.Locale
		u.Timezone = prof.Timezone
	}
	if err := e.deps.Store.Users().Create(ctx, u); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	logger.LogEvent(ctx, logger.CHAT, slog.LevelInfo, "chat.user.create",
		slog.String("status", "ok"),
		slog.Int64("uid", u.ID),
	)
	return u, true, nil
}

// recoverTurn is the incident path: log, mail the operator, reset the user
// to Root, apologize. Failures inside recovery are logged and dropped; there
// is nobody further to escalate to.
func (e *Engine) recoverTurn(ctx context.Context, user *store.User, ev messenger.Event, cause error) {
	logger.LogEvent(ctx, logger.CHAT, slog.LevelError, "chat.turn",
		slog.String("status", "fail"),
		slog.Int64("uid", user.ID),
		slog.String("kind", string(ev.Kind)),
		slog.Int64("seq", ev.Seq),
		slog.String("err", cause.Error()),
	)

	subject := fmt.Sprintf("channelbot: turn failed for fbid %s", user.FBID)
	body := fmt.Sprintf("event kind=%s seq=%d payload=%q text=%q\nstate=%q\n\n%v",
		ev.Kind, ev.Seq, ev.Payload, ev.Text, user.StatePayload, cause)
	if err := e.alert.Alert(ctx, subject, body); err != nil {
		logger.LogEvent(ctx, logger.CHAT, slog.LevelWarn, "chat.alert",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}

	reset := payload.Encode(payload.Payload{
		Kind:   payload.Message,
		State:  string(StateRoot),
		Action: payload.UsrInput,
	})
	if err := e.deps.Store.Users().Update(ctx, user.ID, store.UserPatch{StatePayload: &reset}); err != nil {
		logger.LogEvent(ctx, logger.CHAT, slog.LevelError, "chat.turn",
			slog.String("status", "fail"),
			slog.Int64("uid", user.ID),
			slog.String("err", err.Error()),
			slog.String("cause", "reset persist failed"),
		)
		return
	}
	user.StatePayload = reset

	m := &Machine{reg: e.reg, deps: e.deps, user: user, state: StateRoot, lastPersisted: reset}
	if err := m.SendPlain(ctx, Text(SIDApology)); err != nil {
		return
	}
	_ = m.CallInitiator(ctx)
}
