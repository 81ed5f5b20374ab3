// Package horn fans announcements out to channel subscribers.
package horn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/messenger"
	"github.com/locano/channelbot/core/store"
	"log/slog"
)

// Horn delivers announcements through the messaging gateway.
type Horn struct {
	store       store.Store
	gw          messenger.Gateway
	notifyOwner bool
}

// New builds a Horn. With cfg.NotifyOwner the announcement owner receives a
// copy even when not formally subscribed.
func New(st store.Store, gw messenger.Gateway, cfg config.HornConfig) *Horn {
	return &Horn{store: st, gw: gw, notifyOwner: cfg.NotifyOwner}
}

// Notify delivers the announcement to every subscriber of its channel. A
// vanished channel is logged and swallowed: the channel deletion path owns
// announcement cleanup, so an orphan here is not the caller's problem.
// Dangling subscriber references are skipped, never fatal. skipOwner
// suppresses the owner copy regardless of configuration.
func (h *Horn) Notify(ctx context.Context, annc *store.Annc, skipOwner bool) error {
	ch, err := h.store.Channels().ByID(ctx, annc.ChID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.LogEvent(ctx, logger.HORN, slog.LevelWarn, "horn.notify",
				slog.String("status", "skip"),
				slog.Int64("annc_id", annc.ID),
				slog.Int64("chid", annc.ChID),
				slog.String("cause", "channel vanished"),
			)
			return nil
		}
		return fmt.Errorf("resolve channel: %w", err)
	}

	targets := append([]int64(nil), ch.Subs...)
	if h.notifyOwner && !skipOwner && !ch.HasSub(annc.OwnerUID) {
		targets = append([]int64{annc.OwnerUID}, targets...)
	}

	sent, skipped := 0, 0
	for _, uid := range targets {
		u, err := h.store.Users().ByID(ctx, uid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				skipped++
				logger.LogEvent(ctx, logger.HORN, slog.LevelDebug, "horn.notify",
					slog.String("status", "skip"),
					slog.Int64("chid", ch.ID),
					slog.Int64("uid", uid),
					slog.String("cause", "dangling subscriber"),
				)
				continue
			}
			return fmt.Errorf("resolve subscriber %d: %w", uid, err)
		}
		if err := h.NotifyOne(ctx, u, annc, ch); err != nil {
			skipped++
			logger.LogEvent(ctx, logger.HORN, slog.LevelWarn, "horn.notify",
				slog.String("status", "fail"),
				slog.Int64("chid", ch.ID),
				slog.String("fbid", u.FBID),
				slog.String("err", err.Error()),
			)
			continue
		}
		sent++
	}

	logger.LogEvent(ctx, logger.HORN, slog.LevelInfo, "horn.notify",
		slog.String("status", "ok"),
		slog.Int64("annc_id", annc.ID),
		slog.Int64("chid", ch.ID),
		slog.Int("subs_total", len(targets)),
		slog.Int("subs_sent", sent),
		slog.Int("subs_skipped", skipped),
	)
	return nil
}

// NotifyOne renders and sends the announcement to a single user. The same
// format backs both the fan-out and on-demand announcement pagination.
func (h *Horn) NotifyOne(ctx context.Context, u *store.User, annc *store.Annc, ch *store.Channel) error {
	if ch == nil {
		var err error
		ch, err = h.store.Channels().ByID(ctx, annc.ChID)
		if err != nil {
			return fmt.Errorf("resolve channel %d: %w", annc.ChID, err)
		}
	}
	return h.gw.SendText(ctx, u.FBID, Format(ch, annc, u), nil)
}

// Format renders the notification body with the timestamp shifted into the
// recipient's timezone.
func Format(ch *store.Channel, annc *store.Annc, u *store.User) string {
	created := annc.Created.Add(time.Duration(u.Timezone * float64(time.Hour)))
	return fmt.Sprintf("// %s\n\n%s\n\n// %s // %s",
		ch.Name,
		annc.Text,
		created.Format("03:04 PM"),
		created.Format("January 02, 2006"),
	)
}
