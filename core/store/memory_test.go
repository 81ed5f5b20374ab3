package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, m *Memory, fbid string) *User {
	t.Helper()
	u := &User{FBID: fbid, Locale: "en_US"}
	require.NoError(t, m.Users().Create(context.Background(), u))
	return u
}

func seedChannel(t *testing.T, m *Memory, owner int64, name string) *Channel {
	t.Helper()
	c := &Channel{OwnerUID: owner, Name: name, Desc: "about " + name}
	require.NoError(t, m.Channels().Create(context.Background(), c))
	return c
}

func TestSubscribeKeepsBothSidesInSync(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := seedUser(t, m, "1001")
	reader := seedUser(t, m, "1002")
	ch := seedChannel(t, m, owner.ID, "news")

	changed, err := m.Subscribe(ctx, reader.ID, ch.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	u, err := m.Users().ByID(ctx, reader.ID)
	require.NoError(t, err)
	assert.True(t, u.Subscribed(ch.ID))

	c, err := m.Channels().ByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.True(t, c.HasSub(reader.ID))

	// Repeat subscription is a no-op on both sides.
	changed, err = m.Subscribe(ctx, reader.ID, ch.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = m.Unsubscribe(ctx, reader.ID, ch.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	u, err = m.Users().ByID(ctx, reader.ID)
	require.NoError(t, err)
	assert.False(t, u.Subscribed(ch.ID))
	c, err = m.Channels().ByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, c.HasSub(reader.ID))
}

func TestUnsubscribeRepairsOneSidedMembership(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := seedUser(t, m, "1001")
	reader := seedUser(t, m, "1002")
	ch := seedChannel(t, m, owner.ID, "news")

	// Fabricate a half-applied membership: only the channel side knows.
	m.mu.Lock()
	m.channels[ch.ID].Subs = append(m.channels[ch.ID].Subs, reader.ID)
	m.mu.Unlock()

	changed, err := m.Unsubscribe(ctx, reader.ID, ch.ID)
	require.NoError(t, err)
	assert.True(t, changed, "repairing one side still counts as a change")

	c, err := m.Channels().ByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, c.HasSub(reader.ID))
}

func TestChannelDeleteCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := seedUser(t, m, "1001")
	reader := seedUser(t, m, "1002")
	ch := seedChannel(t, m, owner.ID, "news")

	_, err := m.Subscribe(ctx, reader.ID, ch.ID)
	require.NoError(t, err)
	require.NoError(t, m.Anncs().Create(ctx, &Annc{ChID: ch.ID, OwnerUID: owner.ID, Title: "t", Text: "x"}))

	require.NoError(t, m.Channels().Delete(ctx, ch.ID))

	_, err = m.Channels().ByID(ctx, ch.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	u, err := m.Users().ByID(ctx, reader.ID)
	require.NoError(t, err)
	assert.False(t, u.Subscribed(ch.ID))

	anncs, err := m.Anncs().ByChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Empty(t, anncs)
}

func TestUserDeleteDropsMemberships(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := seedUser(t, m, "1001")
	reader := seedUser(t, m, "1002")
	ch := seedChannel(t, m, owner.ID, "news")

	_, err := m.Subscribe(ctx, reader.ID, ch.ID)
	require.NoError(t, err)

	require.NoError(t, m.Users().Delete(ctx, reader.ID))

	c, err := m.Channels().ByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, c.HasSub(reader.ID))

	_, err = m.Users().ByFBID(ctx, "1002")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChannelLookupsOnlySeeReady(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := seedUser(t, m, "1001")
	ch := seedChannel(t, m, owner.ID, "news")

	pending := ChannelPending
	require.NoError(t, m.Channels().Update(ctx, ch.ID, ChannelPatch{Status: &pending}))

	_, err := m.Channels().ByUCHID(ctx, ch.UCHID)
	assert.ErrorIs(t, err, ErrNotFound)

	owned, err := m.Channels().ByOwner(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestUCHIDFormatAndParse(t *testing.T) {
	id := NewUCHID()
	require.Len(t, id, 9)
	for _, r := range id {
		assert.True(t, r >= '0' && r <= '9', "digit expected, got %q", r)
	}

	assert.Equal(t, "123-456-789", FormatUCHID("123456789"))
	assert.Equal(t, "123456789", ParseUCHID("123-456-789"))
	assert.Equal(t, "123456789", ParseUCHID(" 123 456 789 "))
	assert.Equal(t, "", ParseUCHID("12345678"), "too short")
	assert.Equal(t, "", ParseUCHID("12345678a"), "non-digit")
}
