// Package cmd hosts the shared process entrypoint: configuration
// resolution, infrastructure bootstrap, service wiring, and the serve loop.
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/locano/channelbot/core/blob"
	"github.com/locano/channelbot/core/bootstrap"
	"github.com/locano/channelbot/core/chat"
	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/database"
	"github.com/locano/channelbot/core/horn"
	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/mail"
	"github.com/locano/channelbot/core/messenger/payload"
	"github.com/locano/channelbot/core/messenger/sendapi"
	"github.com/locano/channelbot/core/messenger/sender"
	"github.com/locano/channelbot/core/messenger/webhook"
	"log/slog"
)

// AppConfig is the full configuration file layout: the shared core section
// inlined, plus the database connection.
type AppConfig struct {
	config.Config `yaml:",inline"`
	Database      database.Config `yaml:"database"`
}

// LoadConfig reads the YAML file, applies environment overrides, and
// validates the result.
func LoadConfig(path string) (*AppConfig, error) {
	var cfg AppConfig

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
	if err := config.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Options describe how the binary resolves its configuration.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string
}

// Run loads configuration, brings up the infrastructure, wires the services,
// and serves the webhook until the process is signalled.
func Run(opts Options) error {
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		return fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", env)
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	startedAt := time.Now()

	res, err := bootstrap.Run(bootstrap.Options{Config: &cfg.Config, Database: cfg.Database})
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer res.DB.Close()

	client := sendapi.New(cfg.Messenger)
	dispatcher := sender.NewDispatcher(sender.Options{})
	defer dispatcher.Close()

	blobs, err := blob.NewFS(cfg.Blob)
	if err != nil {
		return fmt.Errorf("cmd: blob store init failed: %w", err)
	}

	// Conversation turns send synchronously so prompts arrive in order;
	// the broadcast fan-out goes through the queued gateway.
	announcer := horn.New(res.Store, sender.NewAsyncGateway(client, dispatcher), cfg.Horn)

	reg, err := chat.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("cmd: state registry invalid: %w", err)
	}
	engine := chat.NewEngine(reg, chat.Deps{
		Store:   res.Store,
		Gateway: client,
		Horn:    announcer,
		Blobs:   blobs,
	}, mail.New(cfg.Mail))

	srv := webhook.NewServer(cfg.Webhook, cfg.Messenger, engine)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Page profile registration is best effort; a transient Graph API error
	// must not keep the webhook from serving.
	greeting := chat.Format(chat.SIDGreeting, map[string]string{"user_first_name": "{{user_first_name}}"})
	getStarted := payload.Encode(payload.Payload{
		Kind:   payload.Menu,
		State:  string(chat.StateRoot),
		Action: string(chat.StateRoot),
	})
	if err := client.SetupProfile(ctx, greeting, getStarted); err != nil {
		logger.L.With("component", "app").Warn("profile setup failed",
			slog.String("event", "profile_setup"),
			slog.String("err", err.Error()),
		)
	}

	logger.L.With("component", "app").Info("app ready",
		slog.String("event", "ready"),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)

	err = srv.Start(ctx)

	logger.L.With("component", "app").Info("shutting down...",
		slog.String("event", "shutdown"),
	)
	return err
}
