// Package api serves the HTTP status interface of a node: metrics, peer sessions and
// record lookups.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	httpmetrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	middlewarestd "github.com/slok/go-http-metrics/middleware/std"
	"go.uber.org/zap"

	"github.com/spacemeshos/go-ibltsync/gossip"
	"github.com/spacemeshos/go-ibltsync/types"
)

// Config is the configuration of the HTTP server.
type Config struct {
	// Listen is the address the server listens on. The server is disabled if empty.
	Listen string `mapstructure:"listen"`
	// MaxBodySize limits the size of published values.
	MaxBodySize int64 `mapstructure:"max-body-size"`
	// CORSAllowedOrigins enables cross-origin requests from the origins, "*" allows any.
	CORSAllowedOrigins []string `mapstructure:"cors-allowed-origins"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:      "127.0.0.1:9095",
		MaxBodySize: 64 << 10,
	}
}

//go:generate mockgen -typed -package=api -destination=./mocks.go -source=./server.go

// Node is the part of the application exposed over HTTP.
type Node interface {
	PeerInfo() []gossip.PeerInfo
	Get(ctx context.Context, key types.Key) (types.Record, error)
	Publish(ctx context.Context, value []byte) (types.Record, error)
}

// Record is the JSON form of a record.
type Record struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Value     []byte    `json:"value"`
}

func newRecord(rec types.Record) Record {
	return Record{Key: rec.Key.String(), Timestamp: rec.Timestamp, Value: rec.Value}
}

// Server is the HTTP status server.
type Server struct {
	logger *zap.Logger
	cfg    Config
	node   Node
	srv    *http.Server
}

// New creates a Server.
func New(logger *zap.Logger, cfg Config, node Node) *Server {
	s := &Server{logger: logger, cfg: cfg, node: node}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// the recorder registers its collectors, so there is one per process.
var recorder = sync.OnceValue(func() middleware.Middleware {
	return middleware.New(middleware.Config{
		Recorder: httpmetrics.NewRecorder(httpmetrics.Config{Prefix: "ibltsync_api"}),
	})
})

// Router returns the handler of every endpoint.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(withRequestID)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/peers", instrument("/peers", s.peers)).Methods(http.MethodGet)
	r.Handle("/records/{key:[0-9a-fA-F]+}", instrument("/records/{key}", s.getRecord)).Methods(http.MethodGet)
	r.Handle("/records", instrument("/records", s.publish)).Methods(http.MethodPost)
	if len(s.cfg.CORSAllowedOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(r)
}

// RequestIDHeader carries the ID of a request. The server assigns one unless the client
// sent a valid uuid.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(r *http.Request) zap.Field {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return zap.String("request", id)
}

func instrument(id string, h http.HandlerFunc) http.Handler {
	return middlewarestd.Handler(id, recorder(), h)
}

// Serve serves requests on the listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.logger.Info("serving http api", zap.Stringer("address", l.Addr()))
	errc := make(chan error, 1)
	go func() {
		errc <- s.srv.Serve(l)
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("serve http api: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http api: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) peers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.PeerInfo())
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	key, err := hex.DecodeString(mux.Vars(r)["key"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := s.node.Get(r.Context(), key)
	switch {
	case errors.Is(err, types.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		s.logger.Warn("failed to get record", requestID(r), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		s.writeJSON(w, http.StatusOK, newRecord(rec))
	}
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	rec, err := s.node.Publish(r.Context(), value)
	switch {
	case errors.Is(err, gossip.ErrValidationRejected):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		s.logger.Warn("failed to publish record", requestID(r), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		s.writeJSON(w, http.StatusCreated, newRecord(rec))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
