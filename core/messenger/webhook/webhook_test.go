package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/messenger"
)

type recordingHandler struct {
	events []messenger.Event
}

func (h *recordingHandler) Dispatch(_ context.Context, ev messenger.Event) error {
	h.events = append(h.events, ev)
	return nil
}

func newTestServer(h EventHandler) *Server {
	return NewServer(
		config.WebhookConfig{Listen: "127.0.0.1", Port: "0", Path: "/webhook"},
		config.MessengerConfig{VerifyToken: "sesame"},
		h,
	)
}

func TestServerAddress(t *testing.T) {
	s := newTestServer(&recordingHandler{})
	assert.Equal(t, "127.0.0.1:0", s.httpSrv.Addr)
}

func TestVerifyHandshake(t *testing.T) {
	s := newTestServer(&recordingHandler{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=sesame&hub.challenge=123456", nil)
	rec := httptest.NewRecorder()
	s.handleVerify(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123456", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=123456", nil)
	rec = httptest.NewRecorder()
	s.handleVerify(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEventBatchDecoding(t *testing.T) {
	body := `{
		"object": "page",
		"entry": [{
			"id": "999",
			"time": 1500000000000,
			"messaging": [
				{"sender":{"id":"42"},"timestamp":1500000000001,
				 "message":{"mid":"m1","seq":11,"text":"hello"}},
				{"sender":{"id":"42"},"timestamp":1500000000002,
				 "message":{"mid":"m2","seq":12,"text":"Subscribe",
				            "quick_reply":{"payload":"CHAT_CLB_QREP/Root/Subscribe"}}},
				{"sender":{"id":"43"},"timestamp":1500000000003,
				 "postback":{"payload":"CHAT_CLB_MENU/Root/MyChannels"}},
				{"sender":{"id":"44"},"timestamp":1500000000004,
				 "referral":{"ref":"sub:123456789","source":"SHORTLINK","type":"OPEN_THREAD"}},
				{"sender":{"id":"42"},"timestamp":1500000000005,
				 "delivery":{"mids":["m1"]}}
			]
		}]
	}`

	events, err := decodeBatch([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 4, "delivery receipt must be skipped")

	assert.Equal(t, messenger.KindText, events[0].Kind)
	assert.Equal(t, "42", events[0].SenderID)
	assert.Equal(t, int64(11), events[0].Seq)
	assert.Equal(t, "hello", events[0].Text)

	assert.Equal(t, messenger.KindQuickReply, events[1].Kind)
	assert.Equal(t, "CHAT_CLB_QREP/Root/Subscribe", events[1].Payload)

	assert.Equal(t, messenger.KindPostback, events[2].Kind)
	assert.Equal(t, "CHAT_CLB_MENU/Root/MyChannels", events[2].Payload)

	assert.Equal(t, messenger.KindReferral, events[3].Kind)
	assert.Equal(t, "sub:123456789", events[3].Ref)
	assert.Equal(t, int64(1500000000004), events[3].Seq, "referrals fall back to timestamp ordering")
}

func TestEventsEndpointDispatches(t *testing.T) {
	h := &recordingHandler{}
	s := newTestServer(h)

	body := `{"object":"page","entry":[{"messaging":[
		{"sender":{"id":"42"},"timestamp":1,"message":{"seq":5,"text":"hi"}}
	]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleEvents(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.events, 1)
	assert.Equal(t, "42", h.events[0].SenderID)
}

func TestMalformedBatchStillAcked(t *testing.T) {
	h := &recordingHandler{}
	s := newTestServer(h)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.handleEvents(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.events)
}
