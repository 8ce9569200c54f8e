package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/linksentry/linksentry/internal/api"
	"github.com/linksentry/linksentry/internal/cache"
	"github.com/linksentry/linksentry/internal/classify"
	"github.com/linksentry/linksentry/internal/config"
	"github.com/linksentry/linksentry/internal/history"
	"github.com/linksentry/linksentry/internal/notify"
	"github.com/linksentry/linksentry/internal/reputation"
	"github.com/linksentry/linksentry/internal/source"
)

type Server struct {
	httpServer *http.Server
	httpLn     net.Listener

	store    *history.Store
	vtCache  *cache.Store
	broker   *notify.Broker
	webhooks *notify.Dispatcher
	logger   *slog.Logger
}

func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	logger := NewLogger(cfg.Logging)

	store, err := history.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}

	vtCache := cache.NewStore(cfg.Sources.VirusTotal.CachePath)
	if err := vtCache.LoadFromDisk(); err != nil {
		logger.Warn("load virustotal cache", "path", cfg.Sources.VirusTotal.CachePath, "error", err)
	}

	index := reputation.NewIndex(cfg.Reputation.DatasetPath, logger)

	safeBrowsing := source.NewSafeBrowsing(cfg.Sources.SafeBrowsing.APIKey, source.SafeBrowsingOptions{
		Endpoint:      cfg.Sources.SafeBrowsing.Endpoint,
		ClientID:      cfg.Sources.SafeBrowsing.ClientID,
		ClientVersion: cfg.Sources.SafeBrowsing.ClientVersion,
		Timeout:       config.Duration(cfg.Sources.SafeBrowsing.Timeout),
	}, logger)
	virusTotal := source.NewVirusTotal(cfg.Sources.VirusTotal.APIKey, vtCache, source.VirusTotalOptions{
		Endpoint: cfg.Sources.VirusTotal.Endpoint,
		Timeout:  config.Duration(cfg.Sources.VirusTotal.Timeout),
	}, logger)
	allowlist := source.NewAllowlist(index, logger)
	oracle := source.NewMLModel(cfg.Sources.MLModel.Endpoint, source.MLModelOptions{
		Timeout: config.Duration(cfg.Sources.MLModel.Timeout),
	}, logger)

	engine := classify.New(safeBrowsing, virusTotal, allowlist, oracle, logger)
	reconciler := history.NewReconciler(store, engine, history.ReconcilerOptions{Workers: cfg.Reconcile.Workers}, logger)

	broker := notify.NewBroker()
	webhooks := notify.NewDispatcher()
	for i := range cfg.Webhooks {
		if err := webhooks.Register(&cfg.Webhooks[i]); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("register webhook %q: %w", cfg.Webhooks[i].Name, err)
		}
	}

	app := api.NewApp(cfg, engine, store, reconciler, broker, webhooks)

	s := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       config.Duration(cfg.Server.ReadTimeout),
		WriteTimeout:      config.Duration(cfg.Server.WriteTimeout),
	}

	ln, err := listen(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("server listening", "addr", ln.Addr().String())

	return &Server{
		httpServer: s,
		httpLn:     ln,
		store:      store,
		vtCache:    vtCache,
		broker:     broker,
		webhooks:   webhooks,
		logger:     logger,
	}, nil
}

// NewLogger builds the process logger from the logging config.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

func listen(cfg *config.Config) (net.Listener, error) {
	addr := cfg.Server.Addr
	if strings.EqualFold(strings.TrimSpace(cfg.Auth.Type), "none") && !isLoopbackListenAddr(addr) {
		return nil, fmt.Errorf("refusing to listen on %q with auth.type=none (use 127.0.0.1/localhost or enable auth)", addr)
	}
	return net.Listen("tcp", addr)
}

func isLoopbackListenAddr(addr string) bool {
	a := strings.TrimSpace(addr)
	if a == "" {
		return false
	}
	// ":8080" binds on all interfaces.
	if strings.HasPrefix(a, ":") {
		return false
	}
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		// If it's missing a port, treat as a hostname/IP.
		host = a
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	// Conservative: unknown hostnames could resolve non-loopback.
	return false
}

func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.drain(shutdownCtx)
		return err
	case err := <-errCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.drain(shutdownCtx)
		return fmt.Errorf("server: %w", err)
	}
}

// drain flushes pending webhook batches and closes the stores.
func (s *Server) drain(ctx context.Context) {
	s.webhooks.Flush(ctx)
	if err := s.vtCache.SaveToDisk(); err != nil {
		s.logger.Warn("save virustotal cache", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close history store", "error", err)
	}
}

func (s *Server) Close() error {
	if s.httpLn != nil {
		_ = s.httpLn.Close()
		s.httpLn = nil
	}
	return nil
}
