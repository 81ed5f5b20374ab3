package messenger

import "context"

// QuickReply is a tappable chip under an outbound message. Payload comes
// back verbatim in the matching inbound event.
type QuickReply struct {
	Title   string
	Payload string
}

// Button appears inside button and generic templates. Postback buttons carry
// Payload; URL buttons carry URL.
type Button struct {
	Type    string // "postback" or "web_url"
	Title   string
	Payload string
	URL     string
}

// Element is one card of a generic template carousel.
type Element struct {
	Title    string
	Subtitle string
	ImageURL string
	Buttons  []Button
}

// Profile is the subset of the user profile the bot personalizes with.
type Profile struct {
	FirstName string
	LastName  string
	Locale    string
	Timezone  float64
}

// PostbackButton builds a postback Button.
func PostbackButton(title, payload string) Button {
	return Button{Type: "postback", Title: title, Payload: payload}
}

// URLButton builds a web_url Button.
func URLButton(title, url string) Button {
	return Button{Type: "web_url", Title: title, URL: url}
}

// Gateway is the narrow outbound surface the conversation engine and the
// notification fan-out depend on. The production implementation talks to the
// Send API; tests substitute a recorder.
type Gateway interface {
	// SendText delivers a plain text message, optionally with quick reply
	// chips attached.
	SendText(ctx context.Context, fbid, text string, replies []QuickReply) error
	// SendButtons delivers a button template.
	SendButtons(ctx context.Context, fbid, text string, buttons []Button) error
	// SendElements delivers a generic template carousel.
	SendElements(ctx context.Context, fbid string, elements []Element) error
	// Profile fetches the sender's public profile fields.
	Profile(ctx context.Context, fbid string) (*Profile, error)
	// ShareLink renders the deep link that opens a conversation with the
	// page and delivers ref as a referral.
	ShareLink(ref string) string
	// ShareableCode asks the platform for a scannable code image bound to
	// ref and returns its URL.
	ShareableCode(ctx context.Context, ref string) (string, error)
}
