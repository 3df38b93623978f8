// Package server exposes the websocket API and static UI of the aggregator.
// Clients hold one long-lived websocket; all feed, content and reload
// operations flow through named JSON messages, and state changes fan out to
// every connected client through the hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"golang.org/x/net/websocket"

	"github.com/feedview/feedview/pkg/domain"
)

// FeedTree is the slice of the tree service the server drives
type FeedTree interface {
	Snapshot() *domain.FeedNode
	Replace(ctx context.Context, root *domain.FeedNode) error
	Move(ctx context.Context, from, to []string) error
	FeedURLsByID(id string) []string
	FeedURLsByHierarchy(hierarchy []string) []string
	MarkStaleURLs(urls []string)
	ApplyChanges(ctx context.Context) error
}

// ContentStore is the slice of the store the server reads and mutates
type ContentStore interface {
	Find(ctx context.Context, q domain.ContentQuery, opts domain.ContentOptions) ([]domain.ContentItem, error)
	SetUnread(ctx context.Context, ids []int64, unread bool) ([]string, error)
	SetUnreadByURLs(ctx context.Context, urls []string, unread bool) error
}

// Reloader queues feed reload jobs
type Reloader interface {
	Enqueue(url, lane string, priority bool) <-chan error
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration, staticDir string)
}

// Server represents HTTP server instance
type Server struct {
	config   ConfigProvider
	tree     FeedTree
	content  ContentStore
	reloader Reloader
	hub      *Hub
	version  string
	debug    bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// New initializes a new server instance
func New(cfg ConfigProvider, tree FeedTree, content ContentStore, reloader Reloader, hub *Hub, version string, debug bool) *Server {
	s := &Server{
		config:   cfg,
		tree:     tree,
		content:  content,
		reloader: reloader,
		hub:      hub,
		version:  version,
		debug:    debug,
		router:   routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout, _ := s.config.GetServerConfig()
	log.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:        listen,
		Handler:     s.router,
		ReadTimeout: timeout,
		// no write timeout: the websocket endpoint holds connections open
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("feedview", "feedview", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Handle("/ws", websocket.Handler(s.handleWS))

	_, _, staticDir := s.config.GetServerConfig()
	if staticDir != "" {
		s.router.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
}
