// Read-only HTTP status API for the node.
//
// Provides simple polling endpoints reporting the node's identity,
// listen addresses and peer connectivity. Uses Gorilla Mux for routing
// and includes CORS support. Deliberately offers no mutating endpoints:
// the only shutdown channel is the process signal.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/rs/cors"
)

var log = logging.Logger("api")

// Status is the node-side view the server exposes.
type Status interface {
	PeerAddress() string
	ListenAddrs() []string
	Topic() string
	ConnectedPeers() []string
	TopicPeers() []string
}

// Server is the HTTP status server.
type Server struct {
	status Status
	server *http.Server
	addr   string
}

// NewServer creates a status server bound to addr once Start is called.
func NewServer(addr string, status Status) *Server {
	s := &Server{status: status}

	r := mux.NewRouter()
	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/status", s.getStatus).Methods("GET")
	apiV1.HandleFunc("/peers", s.getPeers).Methods("GET")
	r.HandleFunc("/health", s.getHealth).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background. A bind failure
// is returned synchronously so startup can abort.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("status API stopped", "err", err)
		}
	}()

	log.Infow("status API listening", "addr", ln.Addr())
	return nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.addr
}

// Stop shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"peer_id":         s.status.PeerAddress(),
		"listen_addrs":    s.status.ListenAddrs(),
		"topic":           s.status.Topic(),
		"connected_peers": len(s.status.ConnectedPeers()),
		"topic_peers":     len(s.status.TopicPeers()),
	})
}

func (s *Server) getPeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]interface{}{
		"connected": s.status.ConnectedPeers(),
		"topic":     s.status.TopicPeers(),
	})
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugw("failed to encode response", "err", err)
	}
}
