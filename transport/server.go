// Package transport is the inbound bus-facing surface (§6): it exposes the
// GET/PUT request/response operations over HTTP as a stand-in for the
// message-bus transport spec.md places out of scope, and carries the
// outbound interface-up/down event stream. Adapted from the teacher's
// server package: a gorilla/mux router wrapped in an *http.Server with
// context-driven shutdown, logging middleware, one handler file per concern.
package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/sanji-io/cellulard/facade"
)

// Server is the bus-facing HTTP surface for a single Facade.
type Server struct {
	addr       string
	facade     *facade.Facade
	router     *mux.Router
	httpServer *http.Server
	events     *EventBroker
}

// New constructs a Server listening on addr and serving f's GET/PUT
// operations. Outbound interface-change events are delivered through the
// returned Server's EventBroker; callers wire Facade.OnNetworkChange to
// Server.PublishInterfaceChange themselves once both exist.
func New(addr string, f *facade.Facade) *Server {
	s := &Server{
		addr:   addr,
		facade: f,
		router: mux.NewRouter(),
		events: newEventBroker(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/network").Subrouter()
	api.HandleFunc("/cellulars", s.handleList).Methods("GET")
	api.HandleFunc("/cellulars/{id}", s.handleGet).Methods("GET")
	api.HandleFunc("/cellulars/{id}", s.handlePut).Methods("PUT")
	api.HandleFunc("/interfaces/{name}/stream", s.handleInterfaceStream).Methods("GET")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("transport: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// Run serves the bus surface until ctx is cancelled, then shuts down
// cleanly. Mirrors the teacher's Server.Run shutdown shape.
func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		log.Info("transport: context done, shutting down bus server")
		s.httpServer.Shutdown(context.Background())
	}()

	log.Infof("transport: listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		log.Info("transport: server closed cleanly")
		return nil
	}
	return fmt.Errorf("transport: serve: %w", err)
}

// PublishInterfaceChange is wired as the Facade's network-change callback
// (§9: Manager → Facade via a one-way callback handle). It forwards to the
// outbound interface event stream.
func (s *Server) PublishInterfaceChange(name string, ev InterfaceEvent) {
	s.events.Publish(name, ev)
}
