package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/locano/channelbot/core/logger"
	"log/slog"
)

// Postgres codes that signal a retryable transaction conflict.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// Postgres is the production Store backed by a sqlx connection pool.
type Postgres struct {
	db    *sqlx.DB
	users *pgUsers
	chans *pgChannels
	annc  *pgAnncs
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	s := &Postgres{db: db}
	s.users = &pgUsers{s}
	s.chans = &pgChannels{s}
	s.annc = &pgAnncs{s}
	return s
}

func (s *Postgres) Users() Users       { return s.users }
func (s *Postgres) Channels() Channels { return s.chans }
func (s *Postgres) Anncs() Anncs       { return s.annc }

// withRetry runs fn in a serializable transaction, retrying on conflict up
// to MaxTxAttempts. A non-conflict error aborts immediately.
func (s *Postgres) withRetry(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= MaxTxAttempts; attempt++ {
		tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin %s: %w", op, err)
		}
		err = fn(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		} else {
			_ = tx.Rollback()
		}
		if !isConflict(err) {
			return err
		}
		lastErr = err
		logger.STORE.Debug("tx conflict",
			slog.String("event", op),
			slog.String("status", "retry"),
			slog.Int("attempts", attempt),
			slog.String("err_code", pqCode(err)),
		)
	}
	logger.STORE.Error("tx conflict exhausted",
		slog.String("event", op),
		slog.String("status", "fail"),
		slog.Int("attempts", MaxTxAttempts),
		slog.String("err", lastErr.Error()),
	)
	return fmt.Errorf("%s after %d attempts: %w", op, MaxTxAttempts, ErrConflict)
}

func isConflict(err error) bool {
	code := pqCode(err)
	return code == pqSerializationFailure || code == pqDeadlockDetected
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func mapRowErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

type pgUsers struct{ s *Postgres }

const userColumns = `id, fbid, msg_seq, state_payload, first_name, last_name, locale, timezone, subscriptions`

func (r *pgUsers) ByID(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.s.db.GetContext(ctx, &u,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, mapRowErr(err, "user")
	}
	return &u, nil
}

func (r *pgUsers) ByFBID(ctx context.Context, fbid string) (*User, error) {
	var u User
	err := r.s.db.GetContext(ctx, &u,
		`SELECT `+userColumns+` FROM users WHERE fbid = $1`, fbid)
	if err != nil {
		return nil, mapRowErr(err, "user")
	}
	return &u, nil
}

func (r *pgUsers) Create(ctx context.Context, u *User) error {
	if u.Subscriptions == nil {
		u.Subscriptions = pq.Int64Array{}
	}
	err := r.s.db.QueryRowContext(ctx,
		`INSERT INTO users (fbid, msg_seq, state_payload, first_name, last_name, locale, timezone, subscriptions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		u.FBID, u.MsgSeq, u.StatePayload, u.FirstName, u.LastName, u.Locale, u.Timezone, u.Subscriptions,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *pgUsers) Update(ctx context.Context, id int64, patch UserPatch) error {
	set, args := buildSet(map[string]any{
		"msg_seq":       deref(patch.MsgSeq),
		"state_payload": deref(patch.StatePayload),
		"first_name":    deref(patch.FirstName),
		"last_name":     deref(patch.LastName),
		"locale":        deref(patch.Locale),
		"timezone":      deref(patch.Timezone),
	})
	if set == "" {
		return nil
	}
	args = append(args, id)
	res, err := r.s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, set, len(args)), args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return checkAffected(res, "user")
}

func (r *pgUsers) Delete(ctx context.Context, id int64) error {
	return r.s.withRetry(ctx, "user.delete", func(tx *sqlx.Tx) error {
		var u User
		if err := tx.GetContext(ctx, &u,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
			return mapRowErr(err, "user")
		}
		for _, chid := range u.Subscriptions {
			if _, err := tx.ExecContext(ctx,
				`UPDATE channels SET subs = array_remove(subs, $1) WHERE id = $2`,
				id, chid); err != nil {
				return fmt.Errorf("drop membership: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}

type pgChannels struct{ s *Postgres }

const channelColumns = `id, owner_uid, name, description, uchid, status, subs, pic_url, qr_code, messenger_code`

func (r *pgChannels) ByID(ctx context.Context, id int64) (*Channel, error) {
	var c Channel
	err := r.s.db.GetContext(ctx, &c,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	if err != nil {
		return nil, mapRowErr(err, "channel")
	}
	return &c, nil
}

func (r *pgChannels) ByUCHID(ctx context.Context, uchid string) (*Channel, error) {
	var c Channel
	err := r.s.db.GetContext(ctx, &c,
		`SELECT `+channelColumns+` FROM channels WHERE uchid = $1 AND status = $2`,
		uchid, ChannelReady)
	if err != nil {
		return nil, mapRowErr(err, "channel")
	}
	return &c, nil
}

func (r *pgChannels) ByOwner(ctx context.Context, ownerUID int64) ([]Channel, error) {
	var out []Channel
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+channelColumns+` FROM channels
		 WHERE owner_uid = $1 AND status = $2 ORDER BY id`,
		ownerUID, ChannelReady)
	if err != nil {
		return nil, fmt.Errorf("channels by owner: %w", err)
	}
	return out, nil
}

func (r *pgChannels) Subscribed(ctx context.Context, uid int64) ([]Channel, error) {
	var out []Channel
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+channelColumns+` FROM channels
		 WHERE subs @> ARRAY[$1]::bigint[] AND status = $2 ORDER BY id`,
		uid, ChannelReady)
	if err != nil {
		return nil, fmt.Errorf("subscribed channels: %w", err)
	}
	return out, nil
}

// Create reserves a fresh human-readable id in the pending status, then
// confirms it by flipping the row to ready. A concurrent insert of the same
// id trips the unique index and triggers a redraw with a new candidate.
func (r *pgChannels) Create(ctx context.Context, c *Channel) error {
	if c.Subs == nil {
		c.Subs = pq.Int64Array{}
	}
	for attempt := 1; attempt <= MaxTxAttempts; attempt++ {
		c.UCHID = NewUCHID()
		c.Status = ChannelPending
		err := r.s.db.QueryRowContext(ctx,
			`INSERT INTO channels (owner_uid, name, description, uchid, status, subs, pic_url, qr_code, messenger_code)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			c.OwnerUID, c.Name, c.Desc, c.UCHID, c.Status, c.Subs,
			c.PicURL, c.QRCode, c.MessengerCode,
		).Scan(&c.ID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
				logger.STORE.Debug("uchid collision",
					slog.String("event", "channel.create"),
					slog.String("status", "retry"),
					slog.String("uchid", c.UCHID),
					slog.Int("attempts", attempt),
				)
				continue
			}
			return fmt.Errorf("create channel: %w", err)
		}
		if _, err := r.s.db.ExecContext(ctx,
			`UPDATE channels SET status = $1 WHERE id = $2`, ChannelReady, c.ID); err != nil {
			return fmt.Errorf("confirm channel: %w", err)
		}
		c.Status = ChannelReady
		return nil
	}
	return fmt.Errorf("allocate uchid after %d attempts: %w", MaxTxAttempts, ErrConflict)
}

func (r *pgChannels) Update(ctx context.Context, id int64, patch ChannelPatch) error {
	set, args := buildSet(map[string]any{
		"name":           deref(patch.Name),
		"description":    deref(patch.Desc),
		"status":         deref(patch.Status),
		"pic_url":        deref(patch.PicURL),
		"qr_code":        deref(patch.QRCode),
		"messenger_code": deref(patch.MessengerCode),
	})
	if set == "" {
		return nil
	}
	args = append(args, id)
	res, err := r.s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE channels SET %s WHERE id = $%d`, set, len(args)), args...)
	if err != nil {
		return fmt.Errorf("update channel: %w", err)
	}
	return checkAffected(res, "channel")
}

func (r *pgChannels) Delete(ctx context.Context, id int64) error {
	return r.s.withRetry(ctx, "channel.delete", func(tx *sqlx.Tx) error {
		var c Channel
		if err := tx.GetContext(ctx, &c,
			`SELECT `+channelColumns+` FROM channels WHERE id = $1`, id); err != nil {
			return mapRowErr(err, "channel")
		}
		for _, uid := range c.Subs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET subscriptions = array_remove(subscriptions, $1) WHERE id = $2`,
				id, uid); err != nil {
				return fmt.Errorf("drop membership: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM anncs WHERE chid = $1`, id); err != nil {
			return fmt.Errorf("delete anncs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete channel: %w", err)
		}
		return nil
	})
}

type pgAnncs struct{ s *Postgres }

const anncColumns = `id, chid, owner_uid, title, text, created`

func (r *pgAnncs) ByID(ctx context.Context, id int64) (*Annc, error) {
	var a Annc
	err := r.s.db.GetContext(ctx, &a,
		`SELECT `+anncColumns+` FROM anncs WHERE id = $1`, id)
	if err != nil {
		return nil, mapRowErr(err, "annc")
	}
	return &a, nil
}

func (r *pgAnncs) ByChannel(ctx context.Context, chid int64) ([]Annc, error) {
	var out []Annc
	err := r.s.db.SelectContext(ctx, &out,
		`SELECT `+anncColumns+` FROM anncs WHERE chid = $1 ORDER BY created DESC, id DESC`, chid)
	if err != nil {
		return nil, fmt.Errorf("anncs by channel: %w", err)
	}
	return out, nil
}

func (r *pgAnncs) Create(ctx context.Context, a *Annc) error {
	if a.Created.IsZero() {
		a.Created = time.Now().UTC()
	}
	err := r.s.db.QueryRowContext(ctx,
		`INSERT INTO anncs (chid, owner_uid, title, text, created)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		a.ChID, a.OwnerUID, a.Title, a.Text, a.Created,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("create annc: %w", err)
	}
	return nil
}

func (r *pgAnncs) Update(ctx context.Context, id int64, patch AnncPatch) error {
	set, args := buildSet(map[string]any{
		"title": deref(patch.Title),
		"text":  deref(patch.Text),
	})
	if set == "" {
		return nil
	}
	args = append(args, id)
	res, err := r.s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE anncs SET %s WHERE id = $%d`, set, len(args)), args...)
	if err != nil {
		return fmt.Errorf("update annc: %w", err)
	}
	return checkAffected(res, "annc")
}

func (r *pgAnncs) Delete(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, `DELETE FROM anncs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete annc: %w", err)
	}
	return checkAffected(res, "annc")
}

// Subscribe updates both membership sets atomically. Reads and writes run
// under serializable isolation so two concurrent subscribers to the same
// channel cannot lose each other's update.
func (s *Postgres) Subscribe(ctx context.Context, uid, chid int64) (bool, error) {
	changed := false
	err := s.withRetry(ctx, "subscribe", func(tx *sqlx.Tx) error {
		changed = false
		var u User
		if err := tx.GetContext(ctx, &u,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, uid); err != nil {
			return mapRowErr(err, "user")
		}
		var c Channel
		if err := tx.GetContext(ctx, &c,
			`SELECT `+channelColumns+` FROM channels WHERE id = $1`, chid); err != nil {
			return mapRowErr(err, "channel")
		}
		if !containsID(u.Subscriptions, chid) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET subscriptions = array_append(subscriptions, $1) WHERE id = $2`,
				chid, uid); err != nil {
				return fmt.Errorf("append subscription: %w", err)
			}
			changed = true
		}
		if !containsID(c.Subs, uid) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE channels SET subs = array_append(subs, $1) WHERE id = $2`,
				uid, chid); err != nil {
				return fmt.Errorf("append subscriber: %w", err)
			}
			changed = true
		}
		return nil
	})
	return changed, err
}

// Unsubscribe is the mirror removal of Subscribe.
func (s *Postgres) Unsubscribe(ctx context.Context, uid, chid int64) (bool, error) {
	changed := false
	err := s.withRetry(ctx, "unsubscribe", func(tx *sqlx.Tx) error {
		changed = false
		var u User
		if err := tx.GetContext(ctx, &u,
			`SELECT `+userColumns+` FROM users WHERE id = $1`, uid); err != nil {
			return mapRowErr(err, "user")
		}
		var c Channel
		if err := tx.GetContext(ctx, &c,
			`SELECT `+channelColumns+` FROM channels WHERE id = $1`, chid); err != nil {
			return mapRowErr(err, "channel")
		}
		if containsID(u.Subscriptions, chid) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET subscriptions = array_remove(subscriptions, $1) WHERE id = $2`,
				chid, uid); err != nil {
				return fmt.Errorf("remove subscription: %w", err)
			}
			changed = true
		}
		if containsID(c.Subs, uid) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE channels SET subs = array_remove(subs, $1) WHERE id = $2`,
				uid, chid); err != nil {
				return fmt.Errorf("remove subscriber: %w", err)
			}
			changed = true
		}
		return nil
	})
	return changed, err
}

// buildSet renders the SET clause for the non-nil patch fields. Map order is
// not stable, so columns are emitted in a fixed order for predictable SQL.
func buildSet(cols map[string]any) (string, []any) {
	order := []string{
		"msg_seq", "state_payload", "first_name", "last_name", "locale", "timezone",
		"name", "description", "status", "pic_url", "qr_code", "messenger_code",
		"title", "text",
	}
	var set string
	var args []any
	for _, col := range order {
		v, ok := cols[col]
		if !ok || v == nil {
			continue
		}
		if set != "" {
			set += ", "
		}
		args = append(args, v)
		set += fmt.Sprintf("%s = $%d", col, len(args))
	}
	return set, args
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func checkAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
