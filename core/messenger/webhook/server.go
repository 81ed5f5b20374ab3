// Package webhook receives platform callbacks: the one-time subscription
// verification handshake and the event batches that drive conversations.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/locano/channelbot/core/config"
	"github.com/locano/channelbot/core/logger"
	"github.com/locano/channelbot/core/messenger"
	"log/slog"
)

// EventHandler consumes normalized inbound events. The conversation engine
// implements it.
type EventHandler interface {
	Dispatch(ctx context.Context, ev messenger.Event) error
}

// Server is the webhook HTTP endpoint.
type Server struct {
	cfg     config.WebhookConfig
	verify  string
	secret  string
	handler EventHandler
	httpSrv *http.Server
}

// NewServer wires the webhook routes for the given page credentials.
func NewServer(cfg config.WebhookConfig, mcfg config.MessengerConfig, handler EventHandler) *Server {
	s := &Server{
		cfg:     cfg,
		verify:  mcfg.VerifyToken,
		secret:  mcfg.AppSecret,
		handler: handler,
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.recoverer)
	r.Get(cfg.Path, s.handleVerify)
	r.Post(cfg.Path, s.handleEvents)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Listen, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.WEB.Info("webhook listening",
			slog.String("event", "web.start"),
			slog.String("listen", s.cfg.Listen),
			slog.String("port", s.cfg.Port),
			slog.String("path", s.cfg.Path),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// handleVerify answers the subscription handshake: echo hub.challenge when
// the verify token matches, refuse otherwise.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || token != s.verify {
		logger.WEB.Warn("verification refused",
			slog.String("event", "web.verify"),
			slog.String("status", "fail"),
			slog.String("mode", mode),
		)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	logger.WEB.Info("verification accepted",
		slog.String("event", "web.verify"),
		slog.String("status", "ok"),
	)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	if s.secret != "" && !s.validSignature(r.Header.Get("X-Hub-Signature-256"), body) {
		logger.WEB.Warn("bad signature",
			slog.String("event", "web.events"),
			slog.String("status", "fail"),
		)
		http.Error(w, "bad signature", http.StatusForbidden)
		return
	}

	events, err := decodeBatch(body)
	if err != nil {
		logger.WEB.Warn("undecodable batch",
			slog.String("event", "web.events"),
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		// 200 regardless: the platform retries failed deliveries and a
		// permanently bad batch would wedge the whole subscription.
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	for _, ev := range events {
		evCtx := logger.WithEventMeta(ctx, ev.SenderID, ev.Seq)
		evCtx = logger.WithRID(evCtx, logger.BuildRID(ev.SenderID, ev.Seq))
		if err := s.handler.Dispatch(evCtx, ev); err != nil {
			logger.LogEvent(evCtx, logger.WEB, slog.LevelError, "web.dispatch",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) validSignature(header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(want))
}

// recoverer catches handler panics and keeps the listener alive.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.WEB.Error("panic recovered",
					slog.String("event", "web.panic"),
					slog.Any("err", rec),
					slog.String("stack", string(debug.Stack())),
				)
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
