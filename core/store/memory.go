package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Memory is an in-process Store. It backs tests and local development where
// spinning up Postgres is not worth it. All methods are safe for concurrent
// use; the single mutex makes the membership pair updates atomic for free.
type Memory struct {
	mu sync.Mutex

	users    map[int64]*User
	byFBID   map[string]int64
	channels map[int64]*Channel
	byUCHID  map[string]int64
	anncs    map[int64]*Annc

	nextUID  int64
	nextCHID int64
	nextAID  int64

	// UserWrites counts Update calls on users, which lets tests assert
	// how many persistence writes a flow produced.
	UserWrites int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[int64]*User),
		byFBID:   make(map[string]int64),
		channels: make(map[int64]*Channel),
		byUCHID:  make(map[string]int64),
		anncs:    make(map[int64]*Annc),
	}
}

func (m *Memory) Users() Users       { return memUsers{m} }
func (m *Memory) Channels() Channels { return memChannels{m} }
func (m *Memory) Anncs() Anncs       { return memAnncs{m} }

func copyUser(u *User) *User {
	out := *u
	out.Subscriptions = append(pq.Int64Array(nil), u.Subscriptions...)
	return &out
}

func copyChannel(c *Channel) *Channel {
	out := *c
	out.Subs = append(pq.Int64Array(nil), c.Subs...)
	return &out
}

type memUsers struct{ m *Memory }

func (r memUsers) ByID(_ context.Context, id int64) (*User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	return copyUser(u), nil
}

func (r memUsers) ByFBID(_ context.Context, fbid string) (*User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	id, ok := r.m.byFBID[fbid]
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	return copyUser(r.m.users[id]), nil
}

func (r memUsers) Create(_ context.Context, u *User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, exists := r.m.byFBID[u.FBID]; exists {
		return fmt.Errorf("user %s already exists", u.FBID)
	}
	r.m.nextUID++
	u.ID = r.m.nextUID
	if u.Subscriptions == nil {
		u.Subscriptions = pq.Int64Array{}
	}
	r.m.users[u.ID] = copyUser(u)
	r.m.byFBID[u.FBID] = u.ID
	return nil
}

func (r memUsers) Update(_ context.Context, id int64, patch UserPatch) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	r.m.UserWrites++
	if patch.MsgSeq != nil {
		u.MsgSeq = *patch.MsgSeq
	}
	if patch.StatePayload != nil {
		u.StatePayload = *patch.StatePayload
	}
	if patch.FirstName != nil {
		u.FirstName = *patch.FirstName
	}
	if patch.LastName != nil {
		u.LastName = *patch.LastName
	}
	if patch.Locale != nil {
		u.Locale = *patch.Locale
	}
	if patch.Timezone != nil {
		u.Timezone = *patch.Timezone
	}
	return nil
}

func (r memUsers) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	for _, chid := range u.Subscriptions {
		if c, ok := r.m.channels[chid]; ok {
			c.Subs = removeID(c.Subs, id)
		}
	}
	delete(r.m.byFBID, u.FBID)
	delete(r.m.users, id)
	return nil
}

type memChannels struct{ m *Memory }

func (r memChannels) ByID(_ context.Context, id int64) (*Channel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel: %w", ErrNotFound)
	}
	return copyChannel(c), nil
}

func (r memChannels) ByUCHID(_ context.Context, uchid string) (*Channel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	id, ok := r.m.byUCHID[uchid]
	if !ok {
		return nil, fmt.Errorf("channel: %w", ErrNotFound)
	}
	c := r.m.channels[id]
	if c.Status != ChannelReady {
		return nil, fmt.Errorf("channel: %w", ErrNotFound)
	}
	return copyChannel(c), nil
}

func (r memChannels) ByOwner(_ context.Context, ownerUID int64) ([]Channel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []Channel
	for _, c := range r.m.channels {
		if c.OwnerUID == ownerUID && c.Status == ChannelReady {
			out = append(out, *copyChannel(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memChannels) Subscribed(_ context.Context, uid int64) ([]Channel, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []Channel
	for _, c := range r.m.channels {
		if c.Status == ChannelReady && containsID(c.Subs, uid) {
			out = append(out, *copyChannel(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memChannels) Create(_ context.Context, c *Channel) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for attempt := 0; attempt < MaxTxAttempts; attempt++ {
		uchid := NewUCHID()
		if _, taken := r.m.byUCHID[uchid]; taken {
			continue
		}
		r.m.nextCHID++
		c.ID = r.m.nextCHID
		c.UCHID = uchid
		c.Status = ChannelReady
		if c.Subs == nil {
			c.Subs = pq.Int64Array{}
		}
		r.m.channels[c.ID] = copyChannel(c)
		r.m.byUCHID[uchid] = c.ID
		return nil
	}
	return fmt.Errorf("allocate uchid: %w", ErrConflict)
}

func (r memChannels) Update(_ context.Context, id int64, patch ChannelPatch) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.channels[id]
	if !ok {
		return fmt.Errorf("channel: %w", ErrNotFound)
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Desc != nil {
		c.Desc = *patch.Desc
	}
	if patch.Status != nil {
		c.Status = *patch.Status
	}
	if patch.PicURL != nil {
		c.PicURL = *patch.PicURL
	}
	if patch.QRCode != nil {
		c.QRCode = *patch.QRCode
	}
	if patch.MessengerCode != nil {
		c.MessengerCode = *patch.MessengerCode
	}
	return nil
}

func (r memChannels) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.channels[id]
	if !ok {
		return fmt.Errorf("channel: %w", ErrNotFound)
	}
	for _, uid := range c.Subs {
		if u, ok := r.m.users[uid]; ok {
			u.Subscriptions = removeID(u.Subscriptions, id)
		}
	}
	for aid, a := range r.m.anncs {
		if a.ChID == id {
			delete(r.m.anncs, aid)
		}
	}
	delete(r.m.byUCHID, c.UCHID)
	delete(r.m.channels, id)
	return nil
}

type memAnncs struct{ m *Memory }

func (r memAnncs) ByID(_ context.Context, id int64) (*Annc, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.anncs[id]
	if !ok {
		return nil, fmt.Errorf("annc: %w", ErrNotFound)
	}
	out := *a
	return &out, nil
}

func (r memAnncs) ByChannel(_ context.Context, chid int64) ([]Annc, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []Annc
	for _, a := range r.m.anncs {
		if a.ChID == chid {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r memAnncs) Create(_ context.Context, a *Annc) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextAID++
	a.ID = r.m.nextAID
	if a.Created.IsZero() {
		a.Created = time.Now().UTC()
	}
	cp := *a
	r.m.anncs[a.ID] = &cp
	return nil
}

func (r memAnncs) Update(_ context.Context, id int64, patch AnncPatch) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.anncs[id]
	if !ok {
		return fmt.Errorf("annc: %w", ErrNotFound)
	}
	if patch.Title != nil {
		a.Title = *patch.Title
	}
	if patch.Text != nil {
		a.Text = *patch.Text
	}
	return nil
}

func (r memAnncs) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.anncs[id]; !ok {
		return fmt.Errorf("annc: %w", ErrNotFound)
	}
	delete(r.m.anncs, id)
	return nil
}

// Subscribe mirrors the Postgres implementation under one lock.
func (m *Memory) Subscribe(_ context.Context, uid, chid int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return false, fmt.Errorf("user: %w", ErrNotFound)
	}
	c, ok := m.channels[chid]
	if !ok {
		return false, fmt.Errorf("channel: %w", ErrNotFound)
	}
	changed := false
	if !containsID(u.Subscriptions, chid) {
		u.Subscriptions = append(u.Subscriptions, chid)
		changed = true
	}
	if !containsID(c.Subs, uid) {
		c.Subs = append(c.Subs, uid)
		changed = true
	}
	return changed, nil
}

// Unsubscribe mirrors the Postgres implementation under one lock.
func (m *Memory) Unsubscribe(_ context.Context, uid, chid int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[uid]
	if !ok {
		return false, fmt.Errorf("user: %w", ErrNotFound)
	}
	c, ok := m.channels[chid]
	if !ok {
		return false, fmt.Errorf("channel: %w", ErrNotFound)
	}
	changed := false
	if containsID(u.Subscriptions, chid) {
		u.Subscriptions = removeID(u.Subscriptions, chid)
		changed = true
	}
	if containsID(c.Subs, uid) {
		c.Subs = removeID(c.Subs, uid)
		changed = true
	}
	return changed, nil
}
