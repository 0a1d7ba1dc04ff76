// ABOUTME: Gateway orchestrator that wires store, auth, agencies, and the HTTP server
// ABOUTME: Manages listener setup (TCP or Tailscale) and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/agency-gateway/internal/agency"
	"github.com/2389/agency-gateway/internal/auth"
	"github.com/2389/agency-gateway/internal/config"
	"github.com/2389/agency-gateway/internal/runtime"
	"github.com/2389/agency-gateway/internal/secrets"
	"github.com/2389/agency-gateway/internal/session"
	"github.com/2389/agency-gateway/internal/store"
	"github.com/2389/agency-gateway/internal/ws"
)

// Gateway orchestrates the agency-gateway server components.
// It owns the WebSocket registry, the agency manager, and the HTTP server
// carrying both the chat socket and the REST API.
type Gateway struct {
	config      *config.Config
	store       store.Store
	registry    *ws.Registry
	manager     *agency.Manager
	handler     *session.Handler
	verifier    *auth.JWTVerifier
	vault       *secrets.Vault
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AGENCY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initVault creates the variable vault when an encryption key is configured.
// Without a key, per-user variables are unavailable and agencies that require
// them fail resolution.
func initVault(cfg *config.Config, s store.Store, logger *slog.Logger) (*secrets.Vault, error) {
	if cfg.Secrets.EncryptionKey == "" {
		logger.Warn("no secrets.encryption_key configured, user variables disabled")
		return nil, nil
	}
	vault, err := secrets.NewVault(cfg.Secrets.EncryptionKey, s)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	return vault, nil
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	vault, err := initVault(cfg, s, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Agencies.SeedFile != "" {
		if err := agency.SeedFromFile(ctx, cfg.Agencies.SeedFile, s, logger.With("component", "seed")); err != nil {
			s.Close()
			return nil, fmt.Errorf("seeding agencies: %w", err)
		}
	}

	rt := runtime.NewClient(logger.With("component", "runtime"))
	manager := agency.NewManager(s, rt, vault, agency.UpstreamCredentials{
		APIKey:  cfg.Upstream.APIKey,
		BaseURL: cfg.Upstream.BaseURL,
		Model:   cfg.Upstream.Model,
	}, logger.With("component", "agency-manager"))

	registry := ws.NewRegistry(logger.With("component", "registry"))
	handler := session.NewHandler(registry, verifier, manager, s, logger.With("component", "session"))

	gw := &Gateway{
		config:   cfg,
		store:    s,
		registry: registry,
		manager:  manager,
		handler:  handler,
		verifier: verifier,
		vault:    vault,
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints, no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// Chat socket authenticates per message, not at upgrade time
	mux.HandleFunc("/ws/", gw.handleWebSocket)

	gw.registerAPIRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerAPIRoutes registers the authenticated REST API on the mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	authMiddleware := auth.HTTPAuthMiddleware(g.verifier)
	mux.Handle("/api/sessions", authMiddleware(http.HandlerFunc(g.handleSessions)))
	mux.Handle("/api/sessions/", authMiddleware(http.HandlerFunc(g.handleSessionRoutes)))
	mux.Handle("/api/agencies", authMiddleware(http.HandlerFunc(g.handleListAgencies)))
	mux.Handle("/api/variables", authMiddleware(http.HandlerFunc(g.handleListVariables)))
	mux.Handle("/api/variables/", authMiddleware(http.HandlerFunc(g.handleVariable)))
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	httpLn, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// setupListener creates the HTTP listener based on configuration.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "agency-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.manager.Close()

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListAgencies(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections)", g.registry.Count())
}
