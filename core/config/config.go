package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// MessengerConfig holds Facebook Messenger platform settings that are common
// for all bots built on this core.
type MessengerConfig struct {
	PageToken   string `yaml:"page_token" envconfig:"FB_PAGE_TOKEN"`
	VerifyToken string `yaml:"verify_token" envconfig:"FB_VERIFY_TOKEN"`
	PageName    string `yaml:"page_name" envconfig:"FB_PAGE_NAME"`
	AppSecret   string `yaml:"app_secret" envconfig:"FB_APP_SECRET"`
	// APIBaseURL overrides the Graph API endpoint; empty means the default.
	APIBaseURL string `yaml:"api_base_url" envconfig:"FB_API_BASE_URL"`
}

// WebhookConfig specifies the inbound webhook listener settings.
type WebhookConfig struct {
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   string `yaml:"port" envconfig:"WEBHOOK_PORT"`
	Path   string `yaml:"path" envconfig:"WEBHOOK_PATH"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// HornConfig controls announcement fan-out behaviour.
type HornConfig struct {
	// NotifyOwner includes the announcement owner in the fan-out even when
	// not formally subscribed to the channel.
	NotifyOwner bool `yaml:"notify_owner" envconfig:"HORN_NOTIFY_OWNER"`
}

// MailConfig configures the operator alert mailer.
type MailConfig struct {
	SMTPHost string `yaml:"smtp_host" envconfig:"MAIL_SMTP_HOST"`
	SMTPPort int    `yaml:"smtp_port" envconfig:"MAIL_SMTP_PORT"`
	Sender   string `yaml:"sender" envconfig:"MAIL_SENDER"`
	Password string `yaml:"password" envconfig:"MAIL_PASSWORD"`
	Operator string `yaml:"operator" envconfig:"MAIL_OPERATOR"`
}

// BlobConfig locates the local asset store for share codes.
type BlobConfig struct {
	Dir string `yaml:"dir" envconfig:"BLOB_DIR"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Messenger MessengerConfig `yaml:"messenger"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	Horn      HornConfig      `yaml:"horn"`
	Mail      MailConfig      `yaml:"mail"`
	Blob      BlobConfig      `yaml:"blob"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Messenger.PageToken) == "" {
		return fmt.Errorf("messenger.page_token is required")
	}
	if strings.TrimSpace(cfg.Messenger.VerifyToken) == "" {
		return fmt.Errorf("messenger.verify_token is required")
	}
	if strings.TrimSpace(cfg.Messenger.PageName) == "" {
		return fmt.Errorf("messenger.page_name is required")
	}

	if strings.TrimSpace(cfg.Webhook.Listen) == "" {
		cfg.Webhook.Listen = "0.0.0.0"
	}
	if strings.TrimSpace(cfg.Webhook.Port) == "" {
		return fmt.Errorf("webhook.port is required")
	}
	if strings.TrimSpace(cfg.Webhook.Path) == "" {
		cfg.Webhook.Path = "/webhook"
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		cfg.Webhook.Path = "/" + cfg.Webhook.Path
	}

	if cfg.Mail.Operator != "" {
		if cfg.Mail.SMTPHost == "" || cfg.Mail.Sender == "" {
			return fmt.Errorf("mail.smtp_host and mail.sender are required when mail.operator is set")
		}
		if cfg.Mail.SMTPPort <= 0 {
			cfg.Mail.SMTPPort = 465
		}
	}

	if strings.TrimSpace(cfg.Blob.Dir) == "" {
		cfg.Blob.Dir = "blobs"
	}

	return nil
}
