// Package web serves the management console HTTP API on top of the shell
// engine.
package web

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"clawconsole/internal/browser"
	"clawconsole/internal/config"
	"clawconsole/internal/domain"
	"clawconsole/internal/metrics"

	"github.com/gorilla/websocket"
)

const (
	maxBodySize     = 1 << 20 // 1MB
	shutdownTimeout = 5 * time.Second
)

// ShellEngine is the part of shell.Engine the console exposes.
type ShellEngine interface {
	Execute(ctx context.Context, req domain.CommandRequest) domain.CommandResult
	ValidateCommand(req domain.CommandRequest) domain.CommandValidation
	KillCommand(id string) bool
	ListActive() []domain.CommandResult
	History(page, limit int) domain.Page[domain.CommandResult]
	AuditLog(page, limit int) domain.Page[domain.ShellAuditEntry]
	ClearHistory()
	ClearAuditLog()
	Config() domain.ShellConfig
	Configure(patch domain.ShellConfigPatch) (domain.ShellConfig, error)
}

// RecordReader lists persisted records. *store.SQLiteStore satisfies it.
type RecordReader interface {
	ListHistory(ctx context.Context, page, limit int) (domain.Page[domain.CommandResult], error)
	ListAudit(ctx context.Context, outcome domain.AuditOutcome, page, limit int) (domain.Page[domain.ShellAuditEntry], error)
}

// Snapshotter captures web pages. *browser.Bridge satisfies it.
type Snapshotter interface {
	Snapshot(ctx context.Context, rawURL string, screenshot bool) (*browser.Snapshot, error)
}

// Server is the console HTTP server.
type Server struct {
	host    string
	port    int
	logger  *slog.Logger
	version string
	handler http.Handler
	server  *http.Server

	engine  ShellEngine
	records RecordReader
	browser Snapshotter
	events  *EventHub

	// Config reference for settings API (protected by cfgMu)
	cfg     *config.Config
	cfgPath string
	cfgMu   sync.RWMutex

	authEnabled  bool
	authUser     string
	authPassHash string
	tokens       *tokenIssuer // nil when auth is disabled
}

type ServerConfig struct {
	Host       string
	Port       int
	Logger     *slog.Logger
	Version    string
	Engine     ShellEngine
	Records    RecordReader // optional
	Browser    Snapshotter  // optional
	Events     *EventHub    // optional live feed
	Config     *config.Config
	ConfigPath string
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		logger:  cfg.Logger,
		version: cfg.Version,
		engine:  cfg.Engine,
		records: cfg.Records,
		browser: cfg.Browser,
		events:  cfg.Events,
		cfg:     cfg.Config,
		cfgPath: cfg.ConfigPath,
	}
	if cfg.Config != nil && cfg.Config.Web.Auth.Enabled {
		s.authEnabled = true
		s.authUser = cfg.Config.Web.Auth.Username
		s.authPassHash = cfg.Config.Web.Auth.PasswordHash
		s.tokens = newTokenIssuer(cfg.Config.Web.Auth.TokenSecret,
			time.Duration(cfg.Config.Web.Auth.TokenTTLMinutes)*time.Minute)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, metrics.Instrument(pattern, h))
	}

	handle("GET /status", s.handleStatus) // public endpoint
	handle("POST /api/auth/token", s.requireBasicAuth(s.handleIssueToken))

	handle("GET /api/config", s.requireAuth(s.handleGetConfig))
	handle("POST /api/config/save", s.requireAuth(s.handleSaveConfig))

	handle("GET /api/shell/config", s.requireAuth(s.handleGetShellConfig))
	handle("PUT /api/shell/config", s.requireAuth(s.handleUpdateShellConfig))
	handle("POST /api/shell/validate", s.requireAuth(s.handleValidate))
	handle("POST /api/shell/execute", s.requireAuth(s.handleExecute))
	handle("GET /api/shell/active", s.requireAuth(s.handleListActive))
	handle("DELETE /api/shell/active/{id}", s.requireAuth(s.handleKill))
	handle("GET /api/shell/history", s.requireAuth(s.handleHistory))
	handle("DELETE /api/shell/history", s.requireAuth(s.handleClearHistory))
	handle("GET /api/shell/audit", s.requireAuth(s.handleAudit))
	handle("DELETE /api/shell/audit", s.requireAuth(s.handleClearAudit))

	handle("POST /api/browser/snapshot", s.requireAuth(s.handleSnapshot))

	// Not instrumented: the upgrade needs the raw connection.
	if s.events != nil {
		mux.HandleFunc("GET /api/shell/events", s.requireAuth(s.events.ServeHTTP))
	}

	if s.cfg != nil && s.cfg.Metrics.Enabled && s.cfg.Metrics.Endpoint != "" {
		mux.Handle("GET "+s.cfg.Metrics.Endpoint, metrics.Handler())
	}
	return mux
}

// Handler returns the console's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("web console started", "addr", "http://"+addr, "auth", s.authEnabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
		if s.events != nil {
			s.events.Close()
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requireAuth wraps a handler with authentication when auth is enabled. It
// accepts HTTP Basic credentials or a bearer token. WebSocket upgrades may
// pass the token as ?access_token= since browsers cannot set headers there.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.authEnabled {
			next(rw, r)
			return
		}
		if token := bearerToken(r); token != "" {
			if _, err := s.tokens.validate(token); err != nil {
				s.logger.Debug("bearer token rejected", "err", err)
				writeError(rw, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next(rw, r)
			return
		}
		s.requireBasicAuth(next)(rw, r)
	}
}

// requireBasicAuth accepts only HTTP Basic credentials.
func (s *Server) requireBasicAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.authEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !s.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="clawconsole"`)
			writeError(rw, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(rw, r)
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// checkCredentials verifies username and password against the stored
// SHA-256 hex hash.
func (s *Server) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(s.authUser)) != 1 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashPassword(pass)), []byte(s.authPassHash)) == 1
}

// HashPassword returns the hex SHA-256 digest stored in web.auth.passwordHash.
func HashPassword(pass string) string {
	sum := sha256.Sum256([]byte(pass))
	return hex.EncodeToString(sum[:])
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().Format(time.RFC3339),
		"uptime":  metrics.Uptime().Round(time.Second).String(),
	}
	if s.engine != nil {
		body["shellEnabled"] = s.engine.Config().Enabled
		body["activeCommands"] = len(s.engine.ListActive())
	}
	writeJSON(rw, http.StatusOK, body)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

// decodeBody reads a JSON body of at most maxBodySize bytes into v.
func decodeBody(rw http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(rw, r.Body, maxBodySize)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pageParams reads 1-based ?page= and ?limit= query parameters. Missing or
// malformed values become 0 and fall back to the listing defaults.
func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
