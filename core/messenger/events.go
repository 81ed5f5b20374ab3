// Package messenger defines the platform-facing types shared by the webhook
// receiver, the Send API client, and the conversation engine: inbound events,
// outbound message shapes, and the Gateway interface between them.
package messenger

// Kind tags the inbound event variants delivered by the platform webhook.
type Kind string

const (
	KindText       Kind = "text"
	KindQuickReply Kind = "quick_reply"
	KindPostback   Kind = "postback"
	KindAttachment Kind = "attachment"
	KindReferral   Kind = "referral"
)

// Attachment is a media item attached to an inbound message.
type Attachment struct {
	Type string
	URL  string
}

// Event is one inbound messaging event, normalized from the webhook batch
// format. Exactly the fields implied by Kind are set: Text for KindText,
// Payload for KindQuickReply and KindPostback, Ref for KindReferral,
// Attachments for KindAttachment.
type Event struct {
	Kind        Kind
	SenderID    string
	Seq         int64
	Timestamp   int64
	Text        string
	Payload     string
	Ref         string
	Attachments []Attachment
}
