package horn

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/messenger"
	"github.com/locano/channelbot/core/store"
)

type sentMessage struct {
	FBID string
	Text string
}

type fakeGateway struct {
	sent []sentMessage
}

func (g *fakeGateway) SendText(_ context.Context, fbid, text string, _ []messenger.QuickReply) error {
	g.sent = append(g.sent, sentMessage{FBID: fbid, Text: text})
	return nil
}

func (g *fakeGateway) SendButtons(_ context.Context, fbid, text string, _ []messenger.Button) error {
	g.sent = append(g.sent, sentMessage{FBID: fbid, Text: text})
	return nil
}

func (g *fakeGateway) SendElements(_ context.Context, fbid string, _ []messenger.Element) error {
	g.sent = append(g.sent, sentMessage{FBID: fbid})
	return nil
}

func (g *fakeGateway) Profile(context.Context, string) (*messenger.Profile, error) {
	return &messenger.Profile{}, nil
}

func (g *fakeGateway) ShareLink(ref string) string {
	return "https://m.me/testpage?ref=" + ref
}

func (g *fakeGateway) ShareableCode(_ context.Context, ref string) (string, error) {
	return "https://codes.example/" + ref + ".png", nil
}

// corruptStore injects a dangling subscriber id into channel reads, the
// half-applied shape a crashed unsubscribe can leave behind.
type corruptStore struct {
	store.Store
	dangling int64
}

func (s corruptStore) Channels() store.Channels {
	return corruptChannels{Channels: s.Store.Channels(), dangling: s.dangling}
}

type corruptChannels struct {
	store.Channels
	dangling int64
}

func (c corruptChannels) ByID(ctx context.Context, id int64) (*store.Channel, error) {
	ch, err := c.Channels.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ch.Subs = append(ch.Subs, c.dangling)
	return ch, nil
}

func TestNotifySkipsDanglingSubscriber(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	gw := &fakeGateway{}

	owner := &store.User{FBID: "10"}
	require.NoError(t, m.Users().Create(ctx, owner))
	subA := &store.User{FBID: "11"}
	require.NoError(t, m.Users().Create(ctx, subA))

	ch := &store.Channel{OwnerUID: owner.ID, Name: "weather"}
	require.NoError(t, m.Channels().Create(ctx, ch))
	_, err := m.Subscribe(ctx, subA.ID, ch.ID)
	require.NoError(t, err)

	annc := &store.Annc{ChID: ch.ID, OwnerUID: owner.ID, Title: "storm", Text: "rain tomorrow"}
	require.NoError(t, m.Anncs().Create(ctx, annc))

	h := New(corruptStore{Store: m, dangling: 9999}, gw, config.HornConfig{NotifyOwner: false})

	require.NoError(t, h.Notify(ctx, annc, false))
	require.Len(t, gw.sent, 1, "only the live subscriber is notified")
	assert.Equal(t, "11", gw.sent[0].FBID)
	assert.Contains(t, gw.sent[0].Text, "// weather")
	assert.Contains(t, gw.sent[0].Text, "rain tomorrow")
}

func TestNotifyVanishedChannelIsNotAnError(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	gw := &fakeGateway{}
	h := New(m, gw, config.HornConfig{NotifyOwner: true})

	annc := &store.Annc{ID: 1, ChID: 404, OwnerUID: 1, Text: "orphan"}
	require.NoError(t, h.Notify(ctx, annc, false))
	assert.Empty(t, gw.sent)
}

func TestNotifyIncludesOwnerWhenConfigured(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	gw := &fakeGateway{}
	h := New(m, gw, config.HornConfig{NotifyOwner: true})

	owner := &store.User{FBID: "10"}
	require.NoError(t, m.Users().Create(ctx, owner))
	sub := &store.User{FBID: "11"}
	require.NoError(t, m.Users().Create(ctx, sub))

	ch := &store.Channel{OwnerUID: owner.ID, Name: "news"}
	require.NoError(t, m.Channels().Create(ctx, ch))
	_, err := m.Subscribe(ctx, sub.ID, ch.ID)
	require.NoError(t, err)

	annc := &store.Annc{ChID: ch.ID, OwnerUID: owner.ID, Text: "hello"}
	require.NoError(t, m.Anncs().Create(ctx, annc))

	require.NoError(t, h.Notify(ctx, annc, false))
	require.Len(t, gw.sent, 2)
	assert.Equal(t, "10", gw.sent[0].FBID, "owner goes first")
	assert.Equal(t, "11", gw.sent[1].FBID)

	// skipOwner overrides the policy.
	gw.sent = nil
	require.NoError(t, h.Notify(ctx, annc, true))
	require.Len(t, gw.sent, 1)
	assert.Equal(t, "11", gw.sent[0].FBID)
}

func TestFormatUsesSubscriberTimezone(t *testing.T) {
	ch := &store.Channel{Name: "news"}
	annc := &store.Annc{
		Text:    "hello",
		Created: time.Date(2017, time.July, 1, 12, 0, 0, 0, time.UTC),
	}

	utc := Format(ch, annc, &store.User{Timezone: 0})
	assert.Contains(t, utc, "12:00 PM")
	assert.Contains(t, utc, "July 01, 2017")

	shifted := Format(ch, annc, &store.User{Timezone: 3})
	assert.Contains(t, shifted, "03:00 PM")

	require.True(t, strings.HasPrefix(utc, "// news\n\nhello\n\n// "))
}
