// Package server exposes the HTTP API: line-protocol ingestion, query
// evaluation, catalog listings and a Prometheus exposition endpoint.
//
// Every data route is tenant-scoped through the x-org-id header; an
// optional x-allowed-resources header (JSON array of resource names)
// widens the caller's visible resource set beyond regex matches.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mistio/tsfdb-server/config"
	"github.com/mistio/tsfdb-server/internal/errors"
	"github.com/mistio/tsfdb-server/internal/ingest"
	"github.com/mistio/tsfdb-server/internal/logging"
	"github.com/mistio/tsfdb-server/internal/qlang"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

var log = logging.Component("server")

const (
	orgHeader      = "x-org-id"
	allowedHeader  = "x-allowed-resources"
	maxRequestBody = 1 << 20 // 1 MiB
)

// Server is the HTTP front end over the storage layer.
type Server struct {
	cfg    *config.Config
	layer  *tsdb.Layer
	writer *ingest.Writer
	http   *http.Server
}

// New wires the routes. promHandler serves GET /metrics and may be nil
// to disable the exposition endpoint.
func New(cfg *config.Config, layer *tsdb.Layer, writer *ingest.Writer, promHandler http.Handler) *Server {
	s := &Server{
		cfg:    cfg,
		layer:  layer,
		writer: writer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/datapoints", s.wrap(s.handleWrite))
	mux.HandleFunc("GET /v1/datapoints", s.wrap(s.handleQuery))
	mux.HandleFunc("GET /v1/resources", s.wrap(s.handleResources))
	mux.HandleFunc("GET /v1/resources/{resource}/metrics", s.wrap(s.handleMetrics))
	if promHandler != nil {
		mux.Handle("GET /metrics", promHandler)
	}

	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "address", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	log.Info("shutdown complete")
	return nil
}

// handlerFunc is an org-scoped handler. Returned errors are translated
// to HTTP statuses centrally.
type handlerFunc func(w http.ResponseWriter, r *http.Request, org string) error

// wrap resolves the tenant, stamps a request id into the context and
// turns handler errors into JSON error responses.
func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := uuid.NewString()

		org := r.Header.Get(orgHeader)
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		if org != "" {
			ctx = logging.ContextWithOrg(ctx, org)
		}
		r = r.WithContext(ctx)

		var err error
		if org == "" {
			err = errors.BadRequestf("missing %s header", orgHeader)
		} else {
			err = h(w, r, org)
		}

		if err != nil {
			status := errors.HTTPStatus(err)
			if status >= 500 {
				logging.WithContext(ctx, log).Error("request failed",
					"method", r.Method, "path", r.URL.Path, "error", err)
			} else {
				logging.WithContext(ctx, log).Warn("request rejected",
					"method", r.Method, "path", r.URL.Path, "error", err)
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}

		logging.WithContext(ctx, log).Debug("request served",
			"method", r.Method, "path", r.URL.Path,
			"duration_ms", time.Since(started).Milliseconds())
	}
}

// handleWrite accepts a line-protocol batch. Depending on configuration
// the batch is either pushed onto the ingest queue or written through
// synchronously. Responds 204 on success.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request, org string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(body) > maxRequestBody {
		return errors.BadRequestf("request body over %d bytes", maxRequestBody)
	}
	if len(body) == 0 {
		return errors.BadRequestf("empty request body")
	}

	if s.cfg.PushToQueue {
		err = s.writer.Enqueue(org, string(body))
	} else {
		err = s.writer.WriteBatch(r.Context(), org, string(body))
	}
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleQuery evaluates the query expression from the "query" parameter
// and returns the resulting series keyed by "resource.metric".
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, org string) error {
	query := r.URL.Query().Get("query")
	if query == "" {
		return errors.BadRequestf("missing query parameter")
	}

	authorized, err := allowedResources(r)
	if err != nil {
		return err
	}

	eval := qlang.New(&orgFetcher{layer: s.layer, org: org, authorized: authorized})
	series, err := eval.Eval(r.Context(), query)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":  query,
		"series": series,
	})
	return nil
}

// handleResources lists the org's resources, optionally filtered by a
// "match" regex parameter.
func (s *Server) handleResources(w http.ResponseWriter, r *http.Request, org string) error {
	pattern := r.URL.Query().Get("match")
	if pattern == "" {
		pattern = "*"
	}
	authorized, err := allowedResources(r)
	if err != nil {
		return err
	}

	resources, err := s.layer.FindResources(org, pattern, authorized)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
	return nil
}

// handleMetrics lists the registered metrics of one resource.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, org string) error {
	resource := r.PathValue("resource")

	metrics, err := s.layer.FindMetrics(org, resource)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
	return nil
}

// allowedResources decodes the optional x-allowed-resources header.
func allowedResources(r *http.Request) ([]string, error) {
	raw := r.Header.Get(allowedHeader)
	if raw == "" {
		return nil, nil
	}
	var resources []string
	if err := json.Unmarshal([]byte(raw), &resources); err != nil {
		return nil, errors.BadRequestf("malformed %s header: %v", allowedHeader, err)
	}
	return resources, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("encode response", "error", err)
	}
}

// orgFetcher binds the query engine's fetch operator to one tenant.
type orgFetcher struct {
	layer      *tsdb.Layer
	org        string
	authorized []string
}

func (f *orgFetcher) Fetch(ctx context.Context, targets []string, start, stop time.Time) (tsdb.SeriesSet, error) {
	return f.layer.FetchList(ctx, f.org, targets, start, stop, f.authorized)
}
