package config

import "testing"

func validConfig() *Config {
	return &Config{
		Messenger: MessengerConfig{
			PageToken:   "token",
			VerifyToken: "sesame",
			PageName:    "testpage",
		},
		Webhook: WebhookConfig{Port: "8080"},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Webhook.Listen != "0.0.0.0" {
		t.Fatalf("listen default not applied: %q", cfg.Webhook.Listen)
	}
	if cfg.Webhook.Path != "/webhook" {
		t.Fatalf("path default not applied: %q", cfg.Webhook.Path)
	}
	if cfg.Blob.Dir != "blobs" {
		t.Fatalf("blob dir default not applied: %q", cfg.Blob.Dir)
	}
}

func TestNormalizeRequiresPort(t *testing.T) {
	cfg := validConfig()
	cfg.Webhook.Port = " "
	if err := Normalize(cfg); err == nil {
		t.Fatal("blank webhook.port accepted")
	}
}

func TestNormalizeMailRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Mail.Operator = "ops@example.com"
	if err := Normalize(cfg); err == nil {
		t.Fatal("operator without smtp host/sender accepted")
	}

	cfg.Mail.SMTPHost = "smtp.example.com"
	cfg.Mail.Sender = "bot@example.com"
	if err := Normalize(cfg); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if cfg.Mail.SMTPPort != 465 {
		t.Fatalf("smtp port default not applied: %d", cfg.Mail.SMTPPort)
	}
}
