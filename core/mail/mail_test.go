package mail

import (
	"context"
	"testing"

	"github.com/locano/channelbot/core/config"
)

func TestNewFallsBackToNop(t *testing.T) {
	if _, ok := New(config.MailConfig{}).(Nop); !ok {
		t.Fatal("unconfigured mail must yield the no-op alerter")
	}
	if _, ok := New(config.MailConfig{Operator: "ops@example.com"}).(Nop); !ok {
		t.Fatal("operator without smtp host must yield the no-op alerter")
	}

	a := New(config.MailConfig{
		Operator: "ops@example.com",
		SMTPHost: "smtp.example.com",
		SMTPPort: 465,
		Sender:   "bot@example.com",
	})
	s, ok := a.(*SMTP)
	if !ok {
		t.Fatalf("expected SMTP alerter, got %T", a)
	}
	if got := s.addr(); got != "smtp.example.com:465" {
		t.Fatalf("relay address: %q", got)
	}
}

func TestNopAlertIsSilentSuccess(t *testing.T) {
	if err := (Nop{}).Alert(context.Background(), "subject", "body"); err != nil {
		t.Fatalf("Nop.Alert: %v", err)
	}
}
