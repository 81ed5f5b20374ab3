// Package store implements the entity store for bot users, channels, and
// announcements. Two implementations are provided: a Postgres-backed one for
// production and an in-memory one for tests and development.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports that the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict reports a transaction conflict that survived all retries.
	ErrConflict = errors.New("store: transaction conflict")
)

// MaxTxAttempts bounds retries of conflicting transactions. Conflicts under
// concurrent subscribe/unsubscribe on a popular channel are expected, not
// exceptional.
const MaxTxAttempts = 5

// Users provides access to user entities.
type Users interface {
	ByID(ctx context.Context, id int64) (*User, error)
	ByFBID(ctx context.Context, fbid string) (*User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, id int64, patch UserPatch) error
	// Delete removes the user after unsubscribing it from all channels.
	Delete(ctx context.Context, id int64) error
}

// Channels provides access to channel entities. Listing queries only see
// channels whose allocation reached the ready status.
type Channels interface {
	ByID(ctx context.Context, id int64) (*Channel, error)
	ByUCHID(ctx context.Context, uchid string) (*Channel, error)
	ByOwner(ctx context.Context, ownerUID int64) ([]Channel, error)
	Subscribed(ctx context.Context, uid int64) ([]Channel, error)
	// Create allocates a unique human-readable channel id using the
	// two-phase pending/ready protocol and persists the channel.
	Create(ctx context.Context, c *Channel) error
	Update(ctx context.Context, id int64, patch ChannelPatch) error
	// Delete unsubscribes every member and removes the channel together
	// with its announcements.
	Delete(ctx context.Context, id int64) error
}

// Anncs provides access to announcement entities.
type Anncs interface {
	ByID(ctx context.Context, id int64) (*Annc, error)
	ByChannel(ctx context.Context, chid int64) ([]Annc, error)
	Create(ctx context.Context, a *Annc) error
	Update(ctx context.Context, id int64, patch AnncPatch) error
	Delete(ctx context.Context, id int64) error
}

// Store aggregates entity access plus the transactional membership pair
// updates that keep User.Subscriptions and Channel.Subs mirrored.
type Store interface {
	Users() Users
	Channels() Channels
	Anncs() Anncs

	// Subscribe adds the channel to the user's subscription set and the
	// user to the channel's subscriber set in one transaction. It reports
	// whether anything changed (false means the membership already held).
	Subscribe(ctx context.Context, uid, chid int64) (bool, error)
	// Unsubscribe is the mirror removal.
	Unsubscribe(ctx context.Context, uid, chid int64) (bool, error)
}
