package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/messenger"
	"github.com/locano/channelbot/core/messenger/payload"
	"github.com/locano/channelbot/core/store"
	"log/slog"
)

// Action ids handled by state action handlers rather than plain CTA
// transitions.
const (
	actionUnsubscribe = "Unsubscribe"
	actionLatest      = "LatestAnncs"
	actionAnnounce    = "Announce"
	actionDelete      = "Delete"
	actionPublish     = "Publish"
	actionDiscard     = "Discard"
	actionHelp        = "ChannelsHelp"
)

// DefaultRegistry builds the shipped conversation graph.
func DefaultRegistry() (*Registry, error) {
	return NewRegistry(map[StateName]StateSpec{
		StateRoot: {
			Prompt: SIDRootPrompt,
			CTAs: []CTA{
				{Title: SIDBrowseChannels, Target: StateBrowseChannels},
				{Title: SIDMyChannels, Target: StateMyChannels},
				{Title: SIDMakeAnnouncement, Target: StateMakeAnnouncement},
				{Title: SIDMySubscriptions, Target: StateMySubscriptions},
			},
			Initiator: rootInitiator,
		},
		StateIdle: {
			Prompt: SIDDbgNoAction,
		},
		StateMyChannels: {
			Prompt: SIDMyChannelsPrompt,
			CTAs: []CTA{
				{Title: SIDCreateChannel, Target: StateCreateChannel},
				{Title: SIDListMyChannels, Target: StateListMyChannels},
				{Title: SIDBack, Target: StateRoot},
			},
			Helper:       channelsHelp,
			HelperAction: actionHelp,
		},
		StateMySubscriptions: {
			Prompt: SIDNoSubscriptions,
			CTAs: []CTA{
				{Title: SIDBrowseChannels, Target: StateBrowseChannels},
				{Title: SIDBack, Target: StateRoot},
			},
			Initiator: mySubscriptionsInitiator,
			OnAction:  mySubscriptionsAction,
		},
		StateBrowseChannels: {
			Prompt: SIDBrowseChannelsPrompt,
			CTAs: []CTA{
				{Title: SIDEnterChannelCode, Target: StateEnterChannelCode},
				{Title: SIDBack, Target: StateRoot},
			},
		},
		StateEnterChannelCode: {
			Prompt:  SIDEnterCodePrompt,
			OnInput: enterChannelCodeInput,
		},
		StateCreateChannel: {
			Prompt:  SIDGetChannelName,
			OnInput: createChannelInput,
		},
		StateSetChannelDesc: {
			Initiator: setChannelDescInitiator,
			OnInput:   setChannelDescInput,
		},
		StateChannelCreated: {
			CTAs: []CTA{
				{Title: SIDSetChannelPic, Target: StateSetChannelPic},
				{Title: SIDSkip, Target: StatePostChannelCreated},
			},
			Initiator: channelCreatedInitiator,
		},
		StateSetChannelPic: {
			Prompt:  SIDGetChannelPic,
			OnInput: setChannelPicInput,
		},
		StatePostChannelCreated: {
			CTAs: []CTA{
				{Title: SIDBack, Target: StateRoot},
			},
			Initiator: postChannelCreatedInitiator,
		},
		StateListMyChannels: {
			Prompt: SIDNoChannelsYet,
			CTAs: []CTA{
				{Title: SIDCreateChannel, Target: StateCreateChannel},
				{Title: SIDBack, Target: StateRoot},
			},
			Initiator: listMyChannelsInitiator,
			OnAction:  listMyChannelsAction,
		},
		StateDeleteChannel: {
			CTAs: []CTA{
				{Title: SIDYesDelete, Action: ActionYes},
				{Title: SIDNoKeep, Action: ActionNo},
			},
			Initiator: deleteChannelInitiator,
			OnAction:  deleteChannelAction,
		},
		StateMakeAnnouncement: {
			Prompt:    SIDAnncPickChannel,
			Initiator: makeAnnouncementInitiator,
			OnAction:  makeAnnouncementAction,
		},
		StateCreateAnncTitle: {
			Prompt:  SIDGetAnncTitle,
			OnInput: createAnncTitleInput,
		},
		StateCreateAnncText: {
			Prompt:  SIDGetAnncText,
			OnInput: createAnncTextInput,
		},
		StateAnncReady: {
			CTAs: []CTA{
				{Title: SIDPublish, Action: actionPublish},
				{Title: SIDDiscard, Action: actionDiscard},
			},
			Initiator: anncReadyInitiator,
			OnAction:  anncReadyAction,
		},
	})
}

func rootInitiator(ctx context.Context, m *Machine) error {
	m.ClearContext()
	return m.Send(ctx, Text(SIDRootPrompt))
}

func channelsHelp(ctx context.Context, m *Machine, _ string, _ messenger.Event) (bool, error) {
	return true, m.Send(ctx, Text(SIDHelpChannelsText))
}

// requireChannel recovers from a channel that vanished mid-conversation:
// tell the user and fall back to Root. Rendering the Root prompt is the
// turn driver's job, never the handler's.
func requireChannel(ctx context.Context, m *Machine) (*store.Channel, bool, error) {
	if m.channel != nil {
		return m.channel, true, nil
	}
	if err := m.SendPlain(ctx, Text(SIDChannelGone)); err != nil {
		return nil, false, err
	}
	return nil, false, m.SetState(ctx, StateRoot)
}

func requireAnnc(ctx context.Context, m *Machine) (*store.Annc, bool, error) {
	if m.annc != nil {
		return m.annc, true, nil
	}
	if err := m.SendPlain(ctx, Text(SIDAnncGone)); err != nil {
		return nil, false, err
	}
	return nil, false, m.SetState(ctx, StateRoot)
}

func mySubscriptionsInitiator(ctx context.Context, m *Machine) error {
	channels, err := m.deps.Store.Channels().Subscribed(ctx, m.user.ID)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return m.Send(ctx, Text(SIDNoSubscriptions))
	}
	elements := make([]messenger.Element, 0, len(channels))
	for _, ch := range channels {
		elements = append(elements, messenger.Element{
			Title:    ch.Name,
			Subtitle: fmt.Sprintf("%s // %s", store.FormatUCHID(ch.UCHID), ch.Desc),
			ImageURL: ch.PicURL,
			Buttons: []messenger.Button{
				messenger.PostbackButton(Text(SIDLatestAnncs), payload.Encode(payload.Payload{
					Kind:     payload.Menu,
					State:    string(StateMySubscriptions),
					Action:   actionLatest,
					Entity:   payload.EntityChannel,
					EntityID: ch.ID,
				})),
				messenger.PostbackButton(Text(SIDUnsubscribe), payload.Encode(payload.Payload{
					Kind:     payload.Menu,
					State:    string(StateMySubscriptions),
					Action:   actionUnsubscribe,
					Entity:   payload.EntityChannel,
					EntityID: ch.ID,
				})),
			},
		})
	}
	return m.deps.Gateway.SendElements(ctx, m.user.FBID, elements)
}

func mySubscriptionsAction(ctx context.Context, m *Machine, action string, _ messenger.Event) (bool, error) {
	switch action {
	case actionUnsubscribe:
		ch, ok, err := requireChannel(ctx, m)
		if !ok {
			return true, err
		}
		if _, err := m.deps.Store.Unsubscribe(ctx, m.user.ID, ch.ID); err != nil {
			return true, err
		}
		m.ClearContext()
		return true, m.SendPlain(ctx, Format(SIDUnsubscribed, map[string]string{"channel_name": ch.Name}))
	case actionLatest:
		ch, ok, err := requireChannel(ctx, m)
		if !ok {
			return true, err
		}
		return true, sendLatestAnncs(ctx, m, ch)
	}
	return false, nil
}

// latestAnncCount bounds the on-demand replay of a channel's history.
const latestAnncCount = 3

func sendLatestAnncs(ctx context.Context, m *Machine, ch *store.Channel) error {
	anncs, err := m.deps.Store.Anncs().ByChannel(ctx, ch.ID)
	if err != nil {
		return err
	}
	if len(anncs) == 0 {
		return m.SendPlain(ctx, Format(SIDNoAnncsYet, map[string]string{"channel_name": ch.Name}))
	}
	if len(anncs) > latestAnncCount {
		anncs = anncs[len(anncs)-latestAnncCount:]
	}
	for i := range anncs {
		if err := m.deps.Horn.NotifyOne(ctx, m.user, &anncs[i], ch); err != nil {
			return err
		}
	}
	return nil
}

func enterChannelCodeInput(ctx context.Context, m *Machine, _ string, ev messenger.Event) error {
	if ev.Kind != messenger.KindText {
		return nil
	}
	uchid := store.ParseUCHID(ev.Text)
	if uchid == "" {
		return m.SendPlain(ctx, Format(SIDChannelNotFound, map[string]string{"channel_id": ev.Text}))
	}
	ch, err := m.deps.Store.Channels().ByUCHID(ctx, uchid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return m.SendPlain(ctx, Format(SIDChannelNotFound,
				map[string]string{"channel_id": store.FormatUCHID(uchid)}))
		}
		return err
	}
	if err := subscribeTo(ctx, m, ch); err != nil {
		return err
	}
	return m.SetState(ctx, StateRoot)
}

// subscribeTo adds the membership, or reports the existing one. Set
// semantics: no duplicate entries, ever.
func subscribeTo(ctx context.Context, m *Machine, ch *store.Channel) error {
	if m.user.Subscribed(ch.ID) || ch.HasSub(m.user.ID) {
		return m.SendPlain(ctx, Format(SIDSubExists, map[string]string{"channel_name": ch.Name}))
	}
	if _, err := m.deps.Store.Subscribe(ctx, m.user.ID, ch.ID); err != nil {
		return err
	}
	m.user.Subscriptions = append(m.user.Subscriptions, ch.ID)
	return m.SendPlain(ctx, Format(SIDSubscribed, map[string]string{"channel_name": ch.Name}))
}

func createChannelInput(ctx context.Context, m *Machine, _ string, ev messenger.Event) error {
	if ev.Kind != messenger.KindText || ev.Text == "" {
		return nil
	}
	ch := &store.Channel{OwnerUID: m.user.ID, Name: ev.Text}
	if err := m.deps.Store.Channels().Create(ctx, ch); err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	logger.LogEvent(ctx, logger.CHAT, slog.LevelInfo, "chat.channel.create",
		slog.String("status", "ok"),
		slog.Int64("chid", ch.ID),
		slog.String("uchid", ch.UCHID),
	)
	m.SetChannel(ch)
	return m.SetState(ctx, StateSetChannelDesc)
}

func setChannelDescInitiator(ctx context.Context, m *Machine) error {
	ch, ok, err := requireChannel(ctx, m)
	if !ok {
		return err
	}
	return m.SendPlain(ctx, Format(SIDGetChannelDesc, map[string]string{
		"channel_name": ch.Name,
		"channel_id":   store.FormatUCHID(ch.UCHID),
	}))
}

func setChannelDescInput(ctx context.Context, m *Machine, _ string, ev messenger.Event) error {
	if ev.Kind != messenger.KindText || ev.Text == "" {
		return nil
	}
	ch, ok, err := requireChannel(ctx, m)
	if !ok {
		return err
	}
	desc := ev.Text
	if err := m.deps.Store.Channels().Update(ctx, ch.ID, store.ChannelPatch{Desc: &desc}); err != nil {
		return err
	}
	ch.Desc = desc
	return m.SetState(ctx, StateChannelCreated)
}

func channelCreatedInitiator(ctx context.Context, m *Machine) error {
	ch, ok, err := requireChannel(ctx, m)
	if !ok {
		return err
	}
	return m.Send(ctx, Format(SIDChannelCreated, map[string]string{
		"channel_name": ch.Name,
		"channel_id":   store.FormatUCHID(ch.UCHID),
	}))
}

func setChannelPicInput(ctx context.Context, m *Machine, _ string, ev messenger.Event) error {
	if ev.Kind != messenger.KindAttachment || len(ev.Attachments) == 0 {
		return nil
	}
	ch, ok, err := requireChannel(ctx, m)
	if !ok {
		return err
	}
	pic := ev.Attachments[0].URL
	if err := m.deps.Store.Channels().Update(ctx, ch.ID, store.ChannelPatch{PicURL: &pic}); err != nil {
		return err
	}
	ch.PicURL = pic
	return m.SetState(ctx, StatePostChannelCreated)
}

func postChannelCreatedInitiator(ctx context.Context, m *Machine) error {
	ch, ok, err := requireChannel(ctx, m)
	if !ok {
		return err
	}
	ref := "sub:" + ch.UCHID
	link := m.deps.Gateway.ShareLink(ref)

	// Share-code generation is best effort; the deep link alone is enough
	// to invite subscribers.
	if ch.MessengerCode == "" {
		if code, err := m.deps.Gateway.ShareableCode(ctx, ref); err != nil {
			logger.LogEvent(ctx, logger.CHAT, slog.LevelWarn, "chat.sharecode",
				slog.String("status", "fail"),
				slog.Int64("chid", ch.ID),
				slog.String("err", err.Error()),
			)
		} else {
			if _, err := m.deps.Blobs.Put(ctx, shareAssetName(ch), []byte(link+"\n"+code)); err != nil {
				logger.LogEvent(ctx, logger.CHAT, slog.LevelWarn, "chat.sharecode",
					slog.String("status", "fail"),
					slog.Int64("chid", ch.ID),
					slog.String("err", err.Error()),
				)
			}
			if err := m.deps.Store.Channels().Update(ctx, ch.ID, store.ChannelPatch{MessengerCode: &code}); err != nil {
				return err
			}
			ch.MessengerCode = code
		}
	}

	return m.Send(ctx, Format(SIDChannelReady, map[string]string{
		"channel_name": ch.Name,
		"share_link":   link,
	}))
}

func shareAssetName(ch *store.Channel) string {
	return ch.UCHID + ".code"
}

func listMyChannelsInitiator(ctx context.Context, m *Machine) error {
	channels, err := m.deps.Store.Channels().ByOwner(ctx, m.user.ID)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return m.Send(ctx, Text(SIDNoChannelsYet))
	}
	elements := make([]messenger.Element, 0, len(channels))
	for _, ch := range channels {
		elements = append(elements, messenger.Element{
			Title:    ch.Name,
			Subtitle: fmt.Sprintf("%s // %d subscribers", store.FormatUCHID(ch.UCHID), len(ch.Subs)),
			ImageURL: ch.PicURL,
			Buttons: []messenger.Button{
				messenger.URLButton(Text(SIDBrowseChannels), m.deps.Gateway.ShareLink("sub:"+ch.UCHID)),
				messenger.PostbackButton(Text(SIDDeleteChannel), payload.Encode(payload.Payload{
					Kind:     payload.Menu,
					State:    string(StateListMyChannels),
					Action:   actionDelete,
					Entity:   payload.EntityChannel,
					EntityID: ch.ID,
				})),
			},
		})
	}
	return m.deps.Gateway.SendElements(ctx, m.user.FBID, elements)
}

func listMyChannelsAction(ctx context.Context, m *Machine, action string, _ messenger.Event) (bool, error) {
	if action != actionDelete {
		return false, nil
	}
	if _, ok, err := requireChannel(ctx, m); !ok {
		return true, err
	}
	return true, m.SetState(ctx, StateDeleteChannel)
}

func deleteChannelInitiator(ctx context.Context, m *Machine) error {
	ch, ok, err := requireChannel(ctx, m)
	if !ok {
		return err
	}
	return m.Send(ctx, Format(SIDDeleteConfirm, map[string]string{
		"channel_name": ch.Name,
		"channel_id":   store.FormatUCHID(ch.UCHID),
	}))
}

func deleteChannelAction(ctx context.Context, m *Machine, action string, _ messenger.Event) (bool, error) {
	switch action {
	case ActionYes:
		ch, ok, err := requireChannel(ctx, m)
		if !ok {
			return true, err
		}
		// Release share-code assets before the row disappears.
		if err := m.deps.Blobs.Remove(ctx, shareAssetName(ch)); err != nil {
			logger.LogEvent(ctx, logger.CHAT, slog.LevelWarn, "chat.channel.delete",
				slog.String("status", "fail"),
				slog.Int64("chid", ch.ID),
				slog.String("err", err.Error()),
			)
		}
		if err := m.deps.Store.Channels().Delete(ctx, ch.ID); err != nil {
			return true, err
		}
		logger.LogEvent(ctx, logger.CHAT, slog.LevelInfo, "chat.channel.delete",
			slog.String("status", "ok"),
			slog.Int64("chid", ch.ID),
		)
		m.ClearContext()
		if err := m.SendPlain(ctx, Format(SIDChannelDeleted, map[string]string{"channel_name": ch.Name})); err != nil {
			return true, err
		}
		return true, m.SetState(ctx, StateRoot)
	case ActionNo:
		// Cancellation is a true no-op on the entity.
		m.ClearContext()
		if err := m.SendPlain(ctx, Text(SIDChannelUnchanged)); err != nil {
			return true, err
		}
		return true, m.SetState(ctx, StateRoot)
	}
	return false, nil
}

func makeAnnouncementInitiator(ctx context.Context, m *Machine) error {
	channels, err := m.deps.Store.Channels().ByOwner(ctx, m.user.ID)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return m.SendWithCTAs(ctx, Text(SIDAnncCreateChannel), []CTA{
			{Title: SIDCreateChannel, Target: StateCreateChannel},
			{Title: SIDBack, Target: StateRoot},
		})
	}
	elements := make([]messenger.Element, 0, len(channels))
	for _, ch := range channels {
		elements = append(elements, messenger.Element{
			Title:    ch.Name,
			Subtitle: fmt.Sprintf("%s // %d subscribers", store.FormatUCHID(ch.UCHID), len(ch.Subs)),
			ImageURL: ch.PicURL,
			Buttons: []messenger.Button{
				messenger.PostbackButton(Text(SIDAnnounce), payload.Encode(payload.Payload{
					Kind:     payload.Menu,
					State:    string(StateMakeAnnouncement),
					Action:   actionAnnounce,
					Entity:   payload.EntityChannel,
					EntityID: ch.ID,
				})),
			},
		})
	}
	return m.deps.Gateway.SendElements(ctx, m.user.FBID, elements)
}

func makeAnnouncementAction(ctx context.Context, m *Machine, action string, _ messenger.Event) (bool, error) {
	if action != actionAnnounce {
		return false, nil
	}
	if _, ok, err := requireChannel(ctx, m); !ok {
		return true, err
	}
	return true, m.SetState(ctx, StateCreateAnncTitle)
}

func createAnncTitleInput(ctx context.Context, m *Machine, _ string, ev messenger.Event) error {
	if ev.Kind != messenger.KindText || ev.Text == "" {
		return nil
	}
	ch, ok, err := requireChannel(ctx, m)
	if !ok {
		return err
	}
	a := &store.Annc{ChID: ch.ID, OwnerUID: m.user.ID, Title: ev.Text}
	if err := m.deps.Store.Anncs().Create(ctx, a); err != nil {
		return fmt.Errorf("create annc: %w", err)
	}
	m.SetAnnc(a, ch)
	return m.SetState(ctx, StateCreateAnncText)
}

func createAnncTextInput(ctx context.Context, m *Machine, _ string, ev messenger.Event) error {
	if ev.Kind != messenger.KindText || ev.Text == "" {
		return nil
	}
	a, ok, err := requireAnnc(ctx, m)
	if !ok {
		return err
	}
	text := ev.Text
	if err := m.deps.Store.Anncs().Update(ctx, a.ID, store.AnncPatch{Text: &text}); err != nil {
		return err
	}
	a.Text = text
	return m.SetState(ctx, StateAnncReady)
}

func anncReadyInitiator(ctx context.Context, m *Machine) error {
	a, ok, err := requireAnnc(ctx, m)
	if !ok {
		return err
	}
	name := ""
	if m.channel != nil {
		name = m.channel.Name
	}
	return m.Send(ctx, Format(SIDAnncReadyPrompt, map[string]string{
		"annc_title":   a.Title,
		"channel_name": name,
	}))
}

func anncReadyAction(ctx context.Context, m *Machine, action string, _ messenger.Event) (bool, error) {
	switch action {
	case actionPublish:
		a, ok, err := requireAnnc(ctx, m)
		if !ok {
			return true, err
		}
		if err := m.deps.Horn.Notify(ctx, a, false); err != nil {
			return true, err
		}
		name := ""
		if m.channel != nil {
			name = m.channel.Name
		}
		m.ClearContext()
		if err := m.SendPlain(ctx, Format(SIDAnncSent, map[string]string{"channel_name": name})); err != nil {
			return true, err
		}
		return true, m.SetState(ctx, StateRoot)
	case actionDiscard:
		a, ok, err := requireAnnc(ctx, m)
		if !ok {
			return true, err
		}
		if err := m.deps.Store.Anncs().Delete(ctx, a.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return true, err
		}
		m.ClearContext()
		if err := m.SendPlain(ctx, Text(SIDAnncDiscarded)); err != nil {
			return true, err
		}
		return true, m.SetState(ctx, StateRoot)
	}
	return false, nil
}
