// Package web is the portal's HTTP surface: login sessions, the ticket list,
// and the admin endpoint that approves and runs a PII extraction.
package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/de101/dataportal/internal/config"
	"github.com/de101/dataportal/internal/extract"
	"github.com/de101/dataportal/internal/jira"
	"github.com/de101/dataportal/internal/session"
)

// TrackerFactory builds a tracker client bound to one caller's credentials.
// Clients are request-scoped; no process-wide tracker client exists.
type TrackerFactory func(email, token string) *jira.Client

// Server wires the HTTP routes to the pipeline collaborators.
type Server struct {
	cfg      config.Config
	sessions *session.Store
	tracker  TrackerFactory
	lookup   extract.PIILookup
	notifier extract.Notifier
	audit    extract.Auditor
	locks    *extract.Locks
	logger   *slog.Logger
	router   *gin.Engine
}

// NewServer builds the router. The locks instance serializes extraction runs
// per ticket key across all requests.
func NewServer(cfg config.Config, sessions *session.Store, tracker TrackerFactory, lookup extract.PIILookup, notifier extract.Notifier, audit extract.Auditor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		tracker:  tracker,
		lookup:   lookup,
		notifier: notifier,
		audit:    audit,
		locks:    extract.NewLocks(),
		logger:   logger,
		router:   router,
	}

	router.GET("/health", s.handleHealth)
	router.POST("/login", s.handleLogin)
	router.GET("/logout", s.handleLogout)

	authed := router.Group("/", s.requireSession())
	{
		authed.GET("/tickets", s.handleTicketList)
		authed.POST("/tickets/:key/extract", s.handleExtract)
	}

	return s
}

// Run starts the web server.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// orchestratorFor builds a request-scoped orchestrator around the caller's
// tracker client.
func (s *Server) orchestratorFor(client *jira.Client) *extract.Orchestrator {
	return &extract.Orchestrator{
		Tracker:  client,
		Lookup:   s.lookup,
		Notifier: s.notifier,
		Audit:    s.audit,
		Locks:    s.locks,
		Opts: extract.Options{
			WorkRoot:            s.cfg.Extract.WorkRoot,
			ChunkSize:           s.cfg.Extract.ChunkSize,
			LookupTimeout:       s.cfg.Database.QueryTimeout,
			DownloadConcurrency: s.cfg.Extract.DownloadConcurrency,
			DeliverEmptyArchive: s.cfg.DeliverEmpty(),
			DoneTransition:      s.cfg.Jira.DoneTransition,
			SupportContact:      s.cfg.Extract.SupportContact,
		},
		Logger: s.logger,
	}
}
