package payload

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Payload{
		{Kind: QuickReply, State: "Root", Action: "MyChannels"},
		{Kind: Menu, State: "Settings", Action: "DeleteAccount"},
		{Kind: Message, State: "CreateChannelName", Action: UsrInput},
		{Kind: Message, State: "EditChannelDesc", Action: UsrInput, Entity: EntityChannel, EntityID: 42},
		{Kind: QuickReply, State: "AnncList", Action: "Publish", Entity: EntityAnnc, EntityID: 7},
	}
	for _, want := range cases {
		raw := Encode(want)
		got := Decode(raw)
		if got == nil {
			t.Fatalf("Decode(%q) = nil", raw)
		}
		if *got != want {
			t.Fatalf("round trip %q: got %+v, want %+v", raw, *got, want)
		}
	}
}

func TestDecodeFailsClosed(t *testing.T) {
	bad := []string{
		"",
		"CHAT_CLB_QREP",
		"CHAT_CLB_QREP/Root",
		"CHAT_CLB_QREP/Root/Go/ch:1/extra",
		"CHAT_CLB_NOPE/Root/Go",
		"CHAT_CLB_QREP//Go",
		"CHAT_CLB_QREP/Root/",
		"CHAT_CLB_QREP/Root/Go/ch42",
		"CHAT_CLB_QREP/Root/Go/xx:42",
		"CHAT_CLB_QREP/Root/Go/ch:abc",
		"CHAT_CLB_QREP/Root/Go/ch:",
		"free text typed by a user",
	}
	for _, raw := range bad {
		if got := Decode(raw); got != nil {
			t.Fatalf("Decode(%q) = %+v, want nil", raw, got)
		}
	}
}
