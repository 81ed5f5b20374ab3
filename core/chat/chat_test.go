package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/locano/channelbot/core/blob"
	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/horn"
	"github.com/locano/channelbot/core/messenger"
	"github.com/locano/channelbot/core/messenger/payload"
	"github.com/locano/channelbot/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentText struct {
	fbid    string
	text    string
	replies []messenger.QuickReply
}

type fakeGateway struct {
	texts    []sentText
	elements [][]messenger.Element
	profile  messenger.Profile
}

func (g *fakeGateway) SendText(_ context.Context, fbid, text string, replies []messenger.QuickReply) error {
	g.texts = append(g.texts, sentText{fbid: fbid, text: text, replies: replies})
	return nil
}

func (g *fakeGateway) SendButtons(_ context.Context, fbid, text string, _ []messenger.Button) error {
	g.texts = append(g.texts, sentText{fbid: fbid, text: text})
	return nil
}

func (g *fakeGateway) SendElements(_ context.Context, _ string, elements []messenger.Element) error {
	g.elements = append(g.elements, elements)
	return nil
}

func (g *fakeGateway) Profile(_ context.Context, _ string) (*messenger.Profile, error) {
	p := g.profile
	return &p, nil
}

func (g *fakeGateway) ShareLink(ref string) string {
	return "https://m.me/testpage?ref=" + ref
}

func (g *fakeGateway) ShareableCode(_ context.Context, ref string) (string, error) {
	return "https://scontent.example/codes/" + ref + ".png", nil
}

func (g *fakeGateway) lastText(t *testing.T) sentText {
	t.Helper()
	require.NotEmpty(t, g.texts, "no text was sent")
	return g.texts[len(g.texts)-1]
}

func newTestEnv(t *testing.T) (*store.Memory, *fakeGateway, *Engine) {
	t.Helper()
	mem := store.NewMemory()
	gw := &fakeGateway{profile: messenger.Profile{FirstName: "Dana", Locale: "en_US", Timezone: 2}}
	reg, err := DefaultRegistry()
	require.NoError(t, err)
	blobs, err := blob.NewFS(config.BlobConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	deps := Deps{
		Store:   mem,
		Gateway: gw,
		Horn:    horn.New(mem, gw, config.HornConfig{NotifyOwner: true}),
		Blobs:   blobs,
	}
	return mem, gw, NewEngine(reg, deps, nil)
}

func seedUser(t *testing.T, mem *store.Memory, fbid string) *store.User {
	t.Helper()
	u := &store.User{FBID: fbid, FirstName: "Dana"}
	require.NoError(t, mem.Users().Create(context.Background(), u))
	return u
}

func seedChannel(t *testing.T, mem *store.Memory, owner int64, name string) *store.Channel {
	t.Helper()
	ch := &store.Channel{OwnerUID: owner, Name: name}
	require.NoError(t, mem.Channels().Create(context.Background(), ch))
	return ch
}

func textEvent(fbid string, seq int64, text string) messenger.Event {
	return messenger.Event{Kind: messenger.KindText, SenderID: fbid, Seq: seq, Text: text}
}

func tapEvent(fbid string, seq int64, p payload.Payload) messenger.Event {
	return messenger.Event{Kind: messenger.KindQuickReply, SenderID: fbid, Seq: seq, Payload: payload.Encode(p)}
}

func TestSetStatePersistsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	mem, _, e := newTestEnv(t)
	u := seedUser(t, mem, "100")

	m, err := NewMachine(ctx, e.reg, e.deps, u, nil)
	require.NoError(t, err)

	before := mem.UserWrites
	require.NoError(t, m.SetState(ctx, StateMyChannels))
	require.NoError(t, m.SetState(ctx, StateMyChannels))
	assert.Equal(t, 1, mem.UserWrites-before, "same-state transition must not rewrite")

	p := payload.Decode(u.StatePayload)
	require.NotNil(t, p)
	assert.Equal(t, string(StateMyChannels), p.State)
	assert.Equal(t, payload.UsrInput, p.Action)
}

func TestSetStateRejectsUnregisteredTarget(t *testing.T) {
	ctx := context.Background()
	mem, _, e := newTestEnv(t)
	u := seedUser(t, mem, "100")

	m, err := NewMachine(ctx, e.reg, e.deps, u, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, m.SetState(ctx, StateName("Bogus")), ErrStateNotRegistered)
}

func TestStaleEventsAreDropped(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)
	u := seedUser(t, mem, "100")

	require.NoError(t, e.Dispatch(ctx, textEvent("100", 5, "hello")))
	sendsAfterFirst := len(gw.texts)
	require.NotZero(t, sendsAfterFirst)

	// Out of order redelivery. Nothing may be sent, nothing rewritten.
	require.NoError(t, e.Dispatch(ctx, textEvent("100", 3, "late")))
	assert.Equal(t, sendsAfterFirst, len(gw.texts))

	fresh, err := mem.Users().ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), fresh.MsgSeq)

	require.NoError(t, e.Dispatch(ctx, textEvent("100", 7, "hello again")))
	fresh, err = mem.Users().ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), fresh.MsgSeq)
	assert.Greater(t, len(gw.texts), sendsAfterFirst)
}

func TestFirstContactGreetsAndCreatesUser(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)

	require.NoError(t, e.Dispatch(ctx, textEvent("555", 1, "hi")))

	u, err := mem.Users().ByFBID(ctx, "555")
	require.NoError(t, err)
	assert.Equal(t, "Dana", u.FirstName)
	assert.Equal(t, float64(2), u.Timezone)

	require.GreaterOrEqual(t, len(gw.texts), 2)
	assert.Contains(t, gw.texts[0].text, "Dana")
	assert.Equal(t, Text(SIDRootPrompt), gw.texts[1].text)
	assert.Len(t, gw.texts[1].replies, 4)
}

func TestAnnouncementFlowCreatesChannelFirst(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)

	// First contact lands on Root.
	require.NoError(t, e.Dispatch(ctx, textEvent("100", 1, "hi")))

	// Tap Make an Announcement; no channels yet, so the engine offers to
	// create one.
	require.NoError(t, e.Dispatch(ctx, tapEvent("100", 2, payload.Payload{
		Kind: payload.QuickReply, State: string(StateRoot), Action: string(StateMakeAnnouncement),
	})))
	assert.Equal(t, Text(SIDAnncCreateChannel), gw.lastText(t).text)

	// Tap Create Channel. The offer was rendered with explicit choices, so
	// the transition rides the registered-state fallback.
	require.NoError(t, e.Dispatch(ctx, tapEvent("100", 3, payload.Payload{
		Kind: payload.QuickReply, State: string(StateMakeAnnouncement), Action: string(StateCreateChannel),
	})))
	assert.Equal(t, Text(SIDGetChannelName), gw.lastText(t).text)

	// Free text names the channel.
	require.NoError(t, e.Dispatch(ctx, textEvent("100", 4, "My News")))

	u, err := mem.Users().ByFBID(ctx, "100")
	require.NoError(t, err)
	channels, err := mem.Channels().ByOwner(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "My News", channels[0].Name)
	assert.Len(t, channels[0].UCHID, 9)

	last := gw.lastText(t).text
	assert.Contains(t, last, "My News")
	assert.Contains(t, last, store.FormatUCHID(channels[0].UCHID))

	// The description prompt registered for input on SetChannelDesc.
	p := payload.Decode(u.StatePayload)
	require.NotNil(t, p)
	assert.Equal(t, string(StateSetChannelDesc), p.State)
	assert.Equal(t, payload.EntityChannel, p.Entity)
	assert.Equal(t, channels[0].ID, p.EntityID)
}

func TestDeleteChannelCancelKeepsChannel(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)
	u := seedUser(t, mem, "100")
	ch := seedChannel(t, mem, u.ID, "My News")

	require.NoError(t, e.Dispatch(ctx, tapEvent("100", 1, payload.Payload{
		Kind:     payload.QuickReply,
		State:    string(StateDeleteChannel),
		Action:   ActionNo,
		Entity:   payload.EntityChannel,
		EntityID: ch.ID,
	})))

	var sawUnchanged bool
	for _, s := range gw.texts {
		if s.text == Text(SIDChannelUnchanged) {
			sawUnchanged = true
		}
	}
	assert.True(t, sawUnchanged, "cancellation message missing")

	// Channel untouched, conversation back at Root.
	_, err := mem.Channels().ByID(ctx, ch.ID)
	require.NoError(t, err)
	fresh, err := mem.Users().ByID(ctx, u.ID)
	require.NoError(t, err)
	p := payload.Decode(fresh.StatePayload)
	require.NotNil(t, p)
	assert.Equal(t, string(StateRoot), p.State)
	assert.Empty(t, p.Entity)
}

func TestDeleteChannelConfirmCascades(t *testing.T) {
	ctx := context.Background()
	mem, _, e := newTestEnv(t)
	owner := seedUser(t, mem, "100")
	sub := seedUser(t, mem, "200")
	ch := seedChannel(t, mem, owner.ID, "My News")
	_, err := mem.Subscribe(ctx, sub.ID, ch.ID)
	require.NoError(t, err)

	require.NoError(t, e.Dispatch(ctx, tapEvent("100", 1, payload.Payload{
		Kind:     payload.QuickReply,
		State:    string(StateDeleteChannel),
		Action:   ActionYes,
		Entity:   payload.EntityChannel,
		EntityID: ch.ID,
	})))

	_, err = mem.Channels().ByID(ctx, ch.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	freshSub, err := mem.Users().ByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, freshSub.Subscribed(ch.ID), "membership must not dangle")
}

func TestReferralSubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)
	owner := seedUser(t, mem, "100")
	u := seedUser(t, mem, "200")
	ch := seedChannel(t, mem, owner.ID, "My News")

	ref := messenger.Event{Kind: messenger.KindReferral, SenderID: "200", Seq: 1, Ref: "sub:" + ch.UCHID}
	require.NoError(t, e.Dispatch(ctx, ref))
	assert.Contains(t, gw.texts[0].text, "now subscribed to My News")

	ref.Seq = 2
	require.NoError(t, e.Dispatch(ctx, ref))

	var exists int
	for _, s := range gw.texts {
		if strings.Contains(s.text, "already subscribed to My News") {
			exists++
		}
	}
	assert.Equal(t, 1, exists)

	fresh, err := mem.Users().ByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, fresh.Subscribed(ch.ID))
	assert.Len(t, fresh.Subscriptions, 1, "no duplicate membership")
}

func TestMalformedButtonPayloadFallsBack(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)
	u := seedUser(t, mem, "100")
	reset := payload.Encode(payload.Payload{Kind: payload.Message, State: string(StateRoot), Action: payload.UsrInput})
	require.NoError(t, mem.Users().Update(ctx, u.ID, store.UserPatch{StatePayload: &reset}))

	ev := messenger.Event{Kind: messenger.KindPostback, SenderID: "100", Seq: 1, Payload: "not/a/real CHAT payload"}
	require.NoError(t, e.Dispatch(ctx, ev))

	require.GreaterOrEqual(t, len(gw.texts), 2)
	assert.Equal(t, Text(SIDDontUnderstand), gw.texts[0].text)
	assert.Equal(t, Text(SIDRootPrompt), gw.texts[1].text)
}

func TestHandlerFailureApologizesAndResets(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)
	u := seedUser(t, mem, "100")

	// A decodable payload naming a state this build no longer registers.
	ev := messenger.Event{
		Kind:     messenger.KindQuickReply,
		SenderID: "100",
		Seq:      1,
		Payload:  fmt.Sprintf("%s/RetiredState/%s", payload.QuickReply, StateRoot),
	}
	require.NoError(t, e.Dispatch(ctx, ev), "handler failures stay inside the engine")

	var sawApology bool
	for _, s := range gw.texts {
		if s.text == Text(SIDApology) {
			sawApology = true
		}
	}
	assert.True(t, sawApology)

	fresh, err := mem.Users().ByID(ctx, u.ID)
	require.NoError(t, err)
	p := payload.Decode(fresh.StatePayload)
	require.NotNil(t, p)
	assert.Equal(t, string(StateRoot), p.State)
}

func TestVanishedChannelFallsBackToRoot(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)
	u := seedUser(t, mem, "100")
	ch := seedChannel(t, mem, u.ID, "My News")
	require.NoError(t, mem.Channels().Delete(ctx, ch.ID))

	require.NoError(t, e.Dispatch(ctx, tapEvent("100", 1, payload.Payload{
		Kind:     payload.QuickReply,
		State:    string(StateDeleteChannel),
		Action:   ActionYes,
		Entity:   payload.EntityChannel,
		EntityID: ch.ID,
	})))

	var gone, rootPrompts int
	for _, s := range gw.texts {
		switch s.text {
		case Text(SIDChannelGone):
			gone++
		case Text(SIDRootPrompt):
			rootPrompts++
		}
	}
	assert.Equal(t, 1, gone)
	assert.Equal(t, 1, rootPrompts, "recovery must render Root exactly once")

	fresh, err := mem.Users().ByID(ctx, u.ID)
	require.NoError(t, err)
	p := payload.Decode(fresh.StatePayload)
	require.NotNil(t, p)
	assert.Equal(t, string(StateRoot), p.State)
}

func TestVanishedChannelOnArrivalRendersRootOnce(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)
	u := seedUser(t, mem, "100")
	ch := seedChannel(t, mem, u.ID, "My News")

	// The user is parked on the confirmation prompt, then the channel goes
	// away before their next message.
	parked := payload.Encode(payload.Payload{
		Kind:     payload.Message,
		State:    string(StateDeleteChannel),
		Action:   payload.UsrInput,
		Entity:   payload.EntityChannel,
		EntityID: ch.ID,
	})
	require.NoError(t, mem.Users().Update(ctx, u.ID, store.UserPatch{StatePayload: &parked}))
	require.NoError(t, mem.Channels().Delete(ctx, ch.ID))

	require.NoError(t, e.Dispatch(ctx, textEvent("100", 1, "yes please")))

	var gone, rootPrompts int
	for _, s := range gw.texts {
		switch s.text {
		case Text(SIDChannelGone):
			gone++
		case Text(SIDRootPrompt):
			rootPrompts++
		}
	}
	assert.Equal(t, 1, gone)
	assert.Equal(t, 1, rootPrompts)

	fresh, err := mem.Users().ByID(ctx, u.ID)
	require.NoError(t, err)
	p := payload.Decode(fresh.StatePayload)
	require.NotNil(t, p)
	assert.Equal(t, string(StateRoot), p.State)
}

func TestPublishNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	mem, gw, e := newTestEnv(t)
	owner := seedUser(t, mem, "100")
	sub := seedUser(t, mem, "200")
	ch := seedChannel(t, mem, owner.ID, "My News")
	_, err := mem.Subscribe(ctx, sub.ID, ch.ID)
	require.NoError(t, err)

	a := &store.Annc{ChID: ch.ID, OwnerUID: owner.ID, Title: "Launch", Text: "We are live"}
	require.NoError(t, mem.Anncs().Create(ctx, a))

	require.NoError(t, e.Dispatch(ctx, tapEvent("100", 1, payload.Payload{
		Kind:     payload.QuickReply,
		State:    string(StateAnncReady),
		Action:   actionPublish,
		Entity:   payload.EntityAnnc,
		EntityID: a.ID,
	})))

	var ownerGot, subGot bool
	for _, s := range gw.texts {
		if strings.Contains(s.text, "We are live") {
			switch s.fbid {
			case "100":
				ownerGot = true
			case "200":
				subGot = true
			}
		}
	}
	assert.True(t, subGot, "subscriber missed the announcement")
	assert.True(t, ownerGot, "owner copy missing")
	assert.Contains(t, gw.lastText(t).text, Text(SIDRootPrompt))
}
