package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/larder/internal/backup"
	"github.com/dukerupert/larder/internal/event"
	"github.com/dukerupert/larder/internal/handler"
	"github.com/dukerupert/larder/internal/ledger"
	"github.com/dukerupert/larder/internal/middleware"
	"github.com/dukerupert/larder/internal/report"
	"github.com/dukerupert/larder/internal/store"
	"github.com/dukerupert/larder/internal/usage"
	ws "github.com/dukerupert/larder/internal/websocket"
)

// Server wires the ledger engine to HTTP and the websocket change stream.
type Server struct {
	bus         *event.Bus
	hub         *ws.Hub
	ledger      *ledger.Ledger
	usage       *usage.Accumulator
	reports     *report.Service
	backups     *backup.Manager
	entryH      *handler.EntryHandler
	usageH      *handler.UsageHandler
	reportH     *handler.ReportHandler
	backupH     *handler.BackupHandler
	rateLimiter *middleware.RateLimiter
	unfollow    []func()
	logger      *slog.Logger
}

func New(docs store.Documents, bus *event.Bus, backupCfg backup.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	led := ledger.New(docs, bus, logger.With("component", "ledger"))
	acc := usage.New(docs, led, bus, logger.With("component", "usage"))
	reports := report.NewService(docs, bus, logger.With("component", "report"))

	backupMgr := backup.NewManager(backupCfg, docs, bus, logger.With("component", "backup"), func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: "backup",
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
				"key":         s.LastKey,
			},
		})
	})

	s := &Server{
		bus:         bus,
		hub:         hub,
		ledger:      led,
		usage:       acc,
		reports:     reports,
		backups:     backupMgr,
		entryH:      handler.NewEntryHandler(led, logger.With("component", "entries")),
		usageH:      handler.NewUsageHandler(acc, logger.With("component", "usage")),
		reportH:     handler.NewReportHandler(reports, logger.With("component", "report")),
		backupH:     handler.NewBackupHandler(backupMgr, logger.With("component", "backup")),
		rateLimiter: middleware.NewRateLimiter(5, time.Minute),
		logger:      logger,
	}

	s.unfollow = append(s.unfollow,
		hub.Follow(bus),
		// Drafts were edited against the old documents; a restore voids them.
		bus.Subscribe(func(c event.Change) {
			if c.Entity == event.EntityStore && c.Action == event.ActionRestored {
				acc.Reset()
			}
		}),
	)
	return s
}

// Close detaches the server's listeners from the bus.
func (s *Server) Close() {
	for _, fn := range s.unfollow {
		fn()
	}
}

// BackupManager returns the backup manager for scheduling.
func (s *Server) BackupManager() *backup.Manager {
	return s.backups
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	// Entry ledger
	mux.HandleFunc("GET /api/entries", s.entryH.List)
	mux.HandleFunc("POST /api/entries", s.entryH.Create)
	mux.HandleFunc("PUT /api/entries/{id}", s.entryH.Update)
	mux.HandleFunc("DELETE /api/entries/{id}", s.entryH.Delete)

	// Usage sheet
	mux.HandleFunc("GET /api/usage", s.usageH.List)
	mux.HandleFunc("PUT /api/usage/{name}/days/{day}", s.usageH.SetDay)
	mux.HandleFunc("POST /api/usage/{name}/commit", s.usageH.Commit)
	mux.HandleFunc("DELETE /api/usage/{name}/draft", s.usageH.Discard)
	mux.HandleFunc("GET /api/usage/{name}/remaining", s.usageH.Remaining)

	mux.HandleFunc("GET /api/report", s.reportH.Get)
	mux.HandleFunc("GET /api/catalog", handler.Catalog)

	// Backups derive a key with argon2 on every call, so they are rate limited.
	mux.HandleFunc("POST /api/backups", s.rateLimitedHandler(s.backupH.Run))
	mux.HandleFunc("POST /api/backups/restore", s.rateLimitedHandler(s.backupH.Restore))
	mux.HandleFunc("GET /api/backups/status", s.backupH.Status)

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.bus.Version(),
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	return rl(h).ServeHTTP
}
