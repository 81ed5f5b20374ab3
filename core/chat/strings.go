package chat

import "strings"

// SID identifies a user-facing string. The table below carries the default
// locale only; full localization infrastructure is deliberately absent, but
// keeping every string behind an SID means wiring it in later is a data
// change, not a code change.
type SID string

const (
	SIDGreeting       SID = "SID_GREETING"
	SIDRootPrompt     SID = "SID_ROOT_PROMPT"
	SIDDbgNoAction    SID = "SID_DBG_NO_ACTION"
	SIDDontUnderstand SID = "SID_DONT_UNDERSTAND"
	SIDApology        SID = "SID_APOLOGY"
	SIDBack           SID = "SID_BACK"

	SIDBrowseChannels       SID = "SID_BROWSE_CHANNELS"
	SIDBrowseChannelsPrompt SID = "SID_BROWSE_CHANNELS_PROMPT"
	SIDEnterChannelCode     SID = "SID_ENTER_CHANNEL_CODE"
	SIDEnterCodePrompt      SID = "SID_ENTER_CODE_PROMPT"
	SIDChannelNotFound      SID = "SID_CHANNEL_NOT_FOUND"
	SIDSubscribed           SID = "SID_SUBSCRIBED"
	SIDSubExists            SID = "SID_SUB_EXISTS"
	SIDUnsubscribed         SID = "SID_UNSUBSCRIBED"
	SIDUnsubscribe          SID = "SID_UNSUBSCRIBE"
	SIDMySubscriptions      SID = "SID_MY_SUBSCRIPTIONS"
	SIDNoSubscriptions      SID = "SID_NO_SUBSCRIPTIONS"

	SIDMyChannels       SID = "SID_MY_CHANNELS"
	SIDMyChannelsPrompt SID = "SID_MY_CHANNELS_PROMPT"
	SIDCreateChannel    SID = "SID_CREATE_CHANNEL"
	SIDListMyChannels   SID = "SID_LIST_MY_CHANNELS"
	SIDNoChannelsYet    SID = "SID_NO_CHANNELS_YET"
	SIDChannelsHelp     SID = "SID_CHANNELS_HELP"
	SIDHelpChannelsText SID = "SID_HELP_CHANNELS_PROMPT"
	SIDGetChannelName   SID = "SID_GET_CHANNEL_NAME"
	SIDGetChannelDesc   SID = "SID_GET_CHANNEL_DESC"
	SIDChannelCreated   SID = "SID_CHANNEL_CREATED"
	SIDSetChannelPic    SID = "SID_SET_CHANNEL_PIC"
	SIDGetChannelPic    SID = "SID_GET_CHANNEL_PIC"
	SIDChannelReady     SID = "SID_CHANNEL_READY"
	SIDChannelGone      SID = "SID_CHANNEL_GONE"
	SIDDeleteChannel    SID = "SID_DELETE_CHANNEL"
	SIDDeleteConfirm    SID = "SID_DELETE_CONFIRM"
	SIDYesDelete        SID = "SID_YES_DELETE"
	SIDNoKeep           SID = "SID_NO_KEEP"
	SIDChannelDeleted   SID = "SID_CHANNEL_DELETED"
	SIDChannelUnchanged SID = "SID_CHANNEL_UNCHANGED"
	SIDSkip             SID = "SID_SKIP"

	SIDMakeAnnouncement  SID = "SID_MAKE_ANNOUNCEMENT"
	SIDAnncCreateChannel SID = "SID_ANNC_CREATE_CHANNEL_PROMPT"
	SIDAnncPickChannel   SID = "SID_ANNC_PICK_CHANNEL"
	SIDAnnounce          SID = "SID_ANNOUNCE"
	SIDGetAnncTitle      SID = "SID_GET_ANNC_TITLE"
	SIDGetAnncText       SID = "SID_GET_ANNC_TEXT"
	SIDAnncReadyPrompt   SID = "SID_ANNC_READY_PROMPT"
	SIDPublish           SID = "SID_PUBLISH"
	SIDDiscard           SID = "SID_DISCARD"
	SIDAnncSent          SID = "SID_ANNC_SENT"
	SIDAnncDiscarded     SID = "SID_ANNC_DISCARDED"
	SIDAnncGone          SID = "SID_ANNC_GONE"
	SIDLatestAnncs       SID = "SID_LATEST_ANNCS"
	SIDNoAnncsYet        SID = "SID_NO_ANNCS_YET"
)

var defaultStrings = map[SID]string{
	SIDGreeting:       "Hi {user_first_name}, welcome to Locano Chatbot",
	SIDRootPrompt:     "Hi! Welcome to Locano Bot. We do information channels. You can create yours or subscribe to someone else's. Try these commands:",
	SIDDbgNoAction:    "[DBG] Not Implemented Yet",
	SIDDontUnderstand: "Sorry, I didn't understand that. Let's start over:",
	SIDApology:        "Something went wrong on our side. Let's start over:",
	SIDBack:           "Back",

	SIDBrowseChannels:       "Browse Channels",
	SIDBrowseChannelsPrompt: "You can join a channel if you know its code",
	SIDEnterChannelCode:     "Enter Channel Code",
	SIDEnterCodePrompt:      "Enter the channel code, e.g. 123-456-789",
	SIDChannelNotFound:      "No channel with code {channel_id} was found",
	SIDSubscribed:           "You are now subscribed to {channel_name}",
	SIDSubExists:            "You are already subscribed to {channel_name}",
	SIDUnsubscribed:         "You are no longer subscribed to {channel_name}",
	SIDUnsubscribe:          "Unsubscribe",
	SIDMySubscriptions:      "My Subscriptions",
	SIDNoSubscriptions:      "You are not subscribed to any channel yet",

	SIDMyChannels:       "My Channels",
	SIDMyChannelsPrompt: "What do you want to do next?",
	SIDCreateChannel:    "Create Channel",
	SIDListMyChannels:   "List My Channels",
	SIDNoChannelsYet:    "You don't have any channels yet",
	SIDChannelsHelp:     "Channels Help",
	SIDHelpChannelsText: "Channels are used to broadcast announcements.\nAnnouncements arrive to all the Channel Subscribers",
	SIDGetChannelName:   "Enter desired channel name",
	SIDGetChannelDesc:   "Channel {channel_name} created.\nChannel ID is {channel_id}.\nEnter channel description",
	SIDChannelCreated:   "Channel {channel_name} ({channel_id}) is ready to use",
	SIDSetChannelPic:    "Set Channel Picture",
	SIDGetChannelPic:    "Send a picture for your channel",
	SIDChannelReady:     "All set! Share this link to invite subscribers to {channel_name}:\n{share_link}",
	SIDChannelGone:      "That channel no longer exists",
	SIDDeleteChannel:    "Delete",
	SIDDeleteConfirm:    "Delete channel {channel_name} ({channel_id})? This cannot be undone",
	SIDYesDelete:        "Yes, delete",
	SIDNoKeep:           "No, keep it",
	SIDChannelDeleted:   "Channel {channel_name} was deleted",
	SIDChannelUnchanged: "OK, nothing was changed",
	SIDSkip:             "Skip",

	SIDMakeAnnouncement:  "Make an Announcement",
	SIDAnncCreateChannel: "You need a channel to make announcements. Create one?",
	SIDAnncPickChannel:   "Which channel is the announcement for?",
	SIDAnnounce:          "Announce",
	SIDGetAnncTitle:      "Enter the announcement title",
	SIDGetAnncText:       "Enter the announcement text",
	SIDAnncReadyPrompt:   "Your announcement \"{annc_title}\" is ready. Send it to all subscribers of {channel_name}?",
	SIDPublish:           "Publish",
	SIDDiscard:           "Discard",
	SIDAnncSent:          "Announcement sent to all subscribers of {channel_name}",
	SIDAnncDiscarded:     "Announcement discarded",
	SIDAnncGone:          "That announcement no longer exists",
	SIDLatestAnncs:       "Latest",
	SIDNoAnncsYet:        "No announcements in {channel_name} yet",
}

// Text resolves an SID in the default locale. Unknown SIDs echo their name,
// which is ugly on screen but impossible to miss in a report.
func Text(sid SID) string {
	if s, ok := defaultStrings[sid]; ok {
		return s
	}
	return string(sid)
}

// Format resolves an SID and substitutes {key} placeholders.
func Format(sid SID, args map[string]string) string {
	s := Text(sid)
	for k, v := range args {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}
