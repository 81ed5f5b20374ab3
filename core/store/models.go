package store

import (
	"time"

	"github.com/lib/pq"
)

// Channel allocation statuses. A channel is created pending while its
// human-readable id is being reserved and flips to ready once the
// reservation is confirmed unique. Only ready channels are discoverable.
const (
	ChannelPending = "pending"
	ChannelReady   = "ready"
)

// User is a messenger account known to the bot. StatePayload carries the
// encoded conversation position so a restart resumes mid-dialog. MsgSeq is
// the highest event sequence number accepted for this user; events at or
// below it are replays and get dropped.
type User struct {
	ID            int64         `db:"id"`
	FBID          string        `db:"fbid"`
	MsgSeq        int64         `db:"msg_seq"`
	StatePayload  string        `db:"state_payload"`
	FirstName     string        `db:"first_name"`
	LastName      string        `db:"last_name"`
	Locale        string        `db:"locale"`
	Timezone      float64       `db:"timezone"`
	Subscriptions pq.Int64Array `db:"subscriptions"`
}

// Name returns the display name used in greetings.
func (u *User) Name() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.FBID
}

// Subscribed reports whether chid is in the user's subscription set.
func (u *User) Subscribed(chid int64) bool {
	return containsID(u.Subscriptions, chid)
}

// UserPatch lists the mutable user fields. Nil fields are left untouched.
type UserPatch struct {
	MsgSeq       *int64
	StatePayload *string
	FirstName    *string
	LastName     *string
	Locale       *string
	Timezone     *float64
}

// Channel is a named announcement feed owned by one user.
type Channel struct {
	ID            int64         `db:"id"`
	OwnerUID      int64         `db:"owner_uid"`
	Name          string        `db:"name"`
	Desc          string        `db:"description"`
	UCHID         string        `db:"uchid"`
	Status        string        `db:"status"`
	Subs          pq.Int64Array `db:"subs"`
	PicURL        string        `db:"pic_url"`
	QRCode        string        `db:"qr_code"`
	MessengerCode string        `db:"messenger_code"`
}

// HasSub reports whether uid is in the channel's subscriber set.
func (c *Channel) HasSub(uid int64) bool {
	return containsID(c.Subs, uid)
}

// ChannelPatch lists the mutable channel fields. Nil fields are left
// untouched.
type ChannelPatch struct {
	Name          *string
	Desc          *string
	Status        *string
	PicURL        *string
	QRCode        *string
	MessengerCode *string
}

// Annc is a single announcement draft or published post within a channel.
type Annc struct {
	ID       int64     `db:"id"`
	ChID     int64     `db:"chid"`
	OwnerUID int64     `db:"owner_uid"`
	Title    string    `db:"title"`
	Text     string    `db:"text"`
	Created  time.Time `db:"created"`
}

// AnncPatch lists the mutable announcement fields. Nil fields are left
// untouched.
type AnncPatch struct {
	Title *string
	Text  *string
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
