// Package httpserver exposes the WhatsApp webhook and a health probe.
package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"bra_notification_bot/internal/domain/messaging"
	"bra_notification_bot/internal/infra/whatsapp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

// InboundHandler processes one user message. It must not block indefinitely
// past the context deadline.
type InboundHandler interface {
	Handle(ctx context.Context, msg messaging.Inbound)
}

type Config struct {
	VerifyToken string
	AppSecret   string
	// HandleTimeout bounds the background processing of one webhook delivery.
	HandleTimeout time.Duration
}

// Server acknowledges webhooks immediately and processes their messages in
// the background.
type Server struct {
	cfg     Config
	handler InboundHandler
	logger  *logrus.Entry
	router  chi.Router

	wg sync.WaitGroup
}

func New(cfg Config, handler InboundHandler, logger *logrus.Entry) *Server {
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = 2 * time.Minute
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.WithField("component", "http_server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.health)
	r.Route("/webhook/whatsapp", func(r chi.Router) {
		r.Get("/", s.verify)
		r.Post("/", s.receive)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until every background webhook job has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

// verify answers Meta's subscription handshake.
func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && s.cfg.VerifyToken != "" && token == s.cfg.VerifyToken && challenge != "" {
		s.logger.Info("Webhook verified")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, challenge)
		return
	}
	s.logger.WithField("mode", mode).Warn("Webhook verification refused")
	http.Error(w, "forbidden", http.StatusForbidden)
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := whatsapp.VerifySignature(s.cfg.AppSecret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		s.logger.WithError(err).Warn("Rejected webhook with invalid signature")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	msgs, err := whatsapp.ParseWebhook(body)
	if err != nil {
		// Meta retries non-2xx answers; a payload we cannot decode will not get better.
		s.logger.WithError(err).Error("Failed to parse webhook payload")
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	if len(msgs) == 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandleTimeout)
		defer cancel()
		for _, msg := range msgs {
			if ctx.Err() != nil {
				s.logger.WithError(ctx.Err()).Warn("Webhook processing interrupted")
				return
			}
			s.handler.Handle(ctx, msg)
		}
	}()
}

// ListenAndServe runs srv until ctx is cancelled, then shuts it down and waits
// for in-flight webhook jobs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("HTTP server shutdown failed")
	}
	s.Wait()
	s.logger.Info("HTTP server stopped")
	return nil
}
