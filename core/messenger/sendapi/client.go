// Package sendapi is the Graph API binding: message delivery over the Send
// API plus the profile lookup used to personalize new users. It implements
// messenger.Gateway.
package sendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/messenger"
	"log/slog"
)

const defaultBaseURL = "https://graph.facebook.com/v12.0"

var tokenRe = regexp.MustCompile(`access_token=[^&\s"]+`)

// APIError is a structured Graph API error response.
type APIError struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	Subcode    int    `json:"error_subcode"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("send api: %s (type=%s code=%d subcode=%d http=%d)",
		e.Message, e.Type, e.Code, e.Subcode, e.HTTPStatus)
}

// Client talks to the Graph API for one page.
type Client struct {
	baseURL  string
	token    string
	pageName string
	http     *http.Client
}

// New builds a Client from the messenger config.
func New(cfg config.MessengerConfig) *Client {
	base := cfg.APIBaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL:  base,
		token:    cfg.PageToken,
		pageName: cfg.PageName,
		http:     buildHTTPClient(),
	}
}

// ShareLink renders the m.me deep link carrying ref as a referral.
func (c *Client) ShareLink(ref string) string {
	return "https://m.me/" + c.pageName + "?ref=" + url.QueryEscape(ref)
}

// ShareableCode requests a scannable code image bound to ref.
func (c *Client) ShareableCode(ctx context.Context, ref string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"type": "standard",
		"data": map[string]string{"ref": ref},
	})
	if err != nil {
		return "", fmt.Errorf("encode code request: %w", err)
	}
	var out struct {
		URI string `json:"uri"`
	}
	if err := c.post(ctx, "/me/messenger_codes", body, &out); err != nil {
		return "", err
	}
	return out.URI, nil
}

// SetupProfile registers the page-level messenger profile: the greeting
// shown before first contact and the Get Started button payload.
func (c *Client) SetupProfile(ctx context.Context, greeting, getStarted string) error {
	body, err := json.Marshal(map[string]any{
		"greeting": []map[string]string{
			{"locale": "default", "text": greeting},
		},
		"get_started": map[string]string{"payload": getStarted},
	})
	if err != nil {
		return fmt.Errorf("encode profile setup: %w", err)
	}
	if err := c.post(ctx, "/me/messenger_profile", body, nil); err != nil {
		return err
	}
	logger.LogEvent(ctx, logger.SEND, slog.LevelInfo, "send.profile_setup",
		slog.String("status", "ok"),
	)
	return nil
}

type recipient struct {
	ID string `json:"id"`
}

type quickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type button struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}

type element struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Buttons  []button `json:"buttons,omitempty"`
}

type outMessage struct {
	Text         string         `json:"text,omitempty"`
	QuickReplies []quickReply   `json:"quick_replies,omitempty"`
	Attachment   *outAttachment `json:"attachment,omitempty"`
}

type outAttachment struct {
	Type    string          `json:"type"`
	Payload templatePayload `json:"payload"`
}

type templatePayload struct {
	TemplateType string    `json:"template_type"`
	Text         string    `json:"text,omitempty"`
	Buttons      []button  `json:"buttons,omitempty"`
	Elements     []element `json:"elements,omitempty"`
}

type sendRequest struct {
	Recipient recipient  `json:"recipient"`
	Message   outMessage `json:"message"`
}

// SendText delivers a plain text message with optional quick replies.
func (c *Client) SendText(ctx context.Context, fbid, text string, replies []messenger.QuickReply) error {
	msg := outMessage{Text: text}
	for _, qr := range replies {
		msg.QuickReplies = append(msg.QuickReplies, quickReply{
			ContentType: "text",
			Title:       qr.Title,
			Payload:     qr.Payload,
		})
	}
	return c.send(ctx, "send.text", fbid, msg)
}

// SendButtons delivers a button template.
func (c *Client) SendButtons(ctx context.Context, fbid, text string, buttons []messenger.Button) error {
	msg := outMessage{Attachment: &outAttachment{
		Type: "template",
		Payload: templatePayload{
			TemplateType: "button",
			Text:         text,
			Buttons:      convertButtons(buttons),
		},
	}}
	return c.send(ctx, "send.buttons", fbid, msg)
}

// SendElements delivers a generic template carousel.
func (c *Client) SendElements(ctx context.Context, fbid string, elements []messenger.Element) error {
	tmpl := templatePayload{TemplateType: "generic"}
	for _, el := range elements {
		tmpl.Elements = append(tmpl.Elements, element{
			Title:    el.Title,
			Subtitle: el.Subtitle,
			ImageURL: el.ImageURL,
			Buttons:  convertButtons(el.Buttons),
		})
	}
	msg := outMessage{Attachment: &outAttachment{Type: "template", Payload: tmpl}}
	return c.send(ctx, "send.elements", fbid, msg)
}

func convertButtons(in []messenger.Button) []button {
	out := make([]button, 0, len(in))
	for _, b := range in {
		out = append(out, button{Type: b.Type, Title: b.Title, Payload: b.Payload, URL: b.URL})
	}
	return out
}

func (c *Client) send(ctx context.Context, event, fbid string, msg outMessage) error {
	body, err := json.Marshal(sendRequest{Recipient: recipient{ID: fbid}, Message: msg})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	start := time.Now()
	err = c.post(ctx, "/me/messages", body, nil)
	took := time.Since(start)
	if err != nil {
		logger.LogEvent(ctx, logger.SEND, slog.LevelError, event,
			slog.String("status", "fail"),
			slog.String("fbid", fbid),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", Redact(err.Error())),
		)
		return err
	}
	logger.LogEvent(ctx, logger.SEND, slog.LevelDebug, event,
		slog.String("status", "ok"),
		slog.String("fbid", fbid),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return nil
}

// Profile fetches the sender's public profile fields. A missing profile is
// not an error; the bot falls back to defaults.
func (c *Client) Profile(ctx context.Context, fbid string) (*messenger.Profile, error) {
	var raw struct {
		FirstName string  `json:"first_name"`
		LastName  string  `json:"last_name"`
		Locale    string  `json:"locale"`
		Timezone  float64 `json:"timezone"`
	}
	q := url.Values{}
	q.Set("fields", "first_name,last_name,locale,timezone")
	if err := c.get(ctx, "/"+url.PathEscape(fbid), q, &raw); err != nil {
		return nil, err
	}
	return &messenger.Profile{
		FirstName: raw.FirstName,
		LastName:  raw.LastName,
		Locale:    raw.Locale,
		Timezone:  raw.Timezone,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	u := c.baseURL + path + "?access_token=" + url.QueryEscape(c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("access_token", c.token)
	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph api: %s", Redact(err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if jsonErr := json.Unmarshal(data, &envelope); jsonErr == nil && envelope.Error.Message != "" {
			apiErr := envelope.Error
			apiErr.HTTPStatus = resp.StatusCode
			return &apiErr
		}
		return &APIError{Message: "unexpected response", HTTPStatus: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Redact strips page access tokens from error text before it reaches logs.
func Redact(msg string) string {
	return tokenRe.ReplaceAllString(msg, "access_token=<redacted>")
}
