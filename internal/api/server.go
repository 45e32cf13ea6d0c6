// Package api serves ranked routes and transfer records over HTTP for the
// user-facing layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/execution"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/out"
)

// RouteQuery is the /routes query string.
type RouteQuery struct {
	Source      string
	Destination string
	Token       string
	Amount      string
	Sender      string
}

type RouteFinder interface {
	Routes(ctx context.Context, q RouteQuery) ([]model.ScoredRoute, []model.ProviderStatus, error)
}

type RecordReader interface {
	Get(ctx context.Context, idOrTxHash string) (model.BridgeRecord, error)
	List(ctx context.Context, status string, limit int) ([]model.BridgeRecord, error)
}

type Server struct {
	routes  RouteFinder
	records RecordReader
	now     func() time.Time
	log     zerolog.Logger
}

func New(routes RouteFinder, records RecordReader, log zerolog.Logger) *Server {
	return &Server{
		routes:  routes,
		records: records,
		now:     time.Now,
		log:     log.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/routes", s.handleRoutes)
	r.Get("/records", s.handleListRecords)
	r.Get("/records/{id}", s.handleGetRecord)
	return r
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "http api", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "http api shutdown", err)
	}
	s.log.Info().Msg("http api stopped")
	return nil
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := RouteQuery{
		Source:      q.Get("source"),
		Destination: q.Get("destination"),
		Token:       q.Get("token"),
		Amount:      q.Get("amount"),
		Sender:      q.Get("sender"),
	}
	for name, v := range map[string]string{"source": query.Source, "destination": query.Destination, "token": query.Token, "amount": query.Amount} {
		if strings.TrimSpace(v) == "" {
			s.writeError(w, r, clierr.New(clierr.CodeUsage, name+" query parameter is required"), nil)
			return
		}
	}
	routes, statuses, err := s.routes.Routes(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err, statuses)
		return
	}
	s.writeJSON(w, http.StatusOK, out.Success(r.URL.Path, routes, nil, statuses, model.CacheStatus{Status: "bypass"}, s.now()))
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" {
		if _, ok := model.ParseSettlementStatus(status); !ok {
			s.writeError(w, r, clierr.New(clierr.CodeUsage, "unknown status filter "+status), nil)
			return
		}
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, clierr.New(clierr.CodeUsage, "limit must be a positive integer"), nil)
			return
		}
		limit = n
	}
	records, err := s.records.List(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, out.Success(r.URL.Path, records, nil, nil, model.CacheStatus{Status: "bypass"}, s.now()))
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, out.Success(r.URL.Path, rec, nil, nil, model.CacheStatus{Status: "bypass"}, s.now()))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, statuses []model.ProviderStatus) {
	s.writeJSON(w, httpStatus(err), out.Failure(r.URL.Path, err, statuses, s.now()))
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("write response")
	}
}

func httpStatus(err error) int {
	if errors.Is(err, execution.ErrRecordNotFound) {
		return http.StatusNotFound
	}
	cErr, ok := clierr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch cErr.Code {
	case clierr.CodeUsage, clierr.CodeUnsupportedChain, clierr.CodeUnsupportedAsset:
		return http.StatusBadRequest
	case clierr.CodeNoSupportedProvider, clierr.CodeNoValidRoute:
		return http.StatusUnprocessableEntity
	case clierr.CodeRateLimited:
		return http.StatusTooManyRequests
	case clierr.CodeUnavailable, clierr.CodeFeeQuoteFailure:
		return http.StatusServiceUnavailable
	case clierr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("latency", time.Since(start)).
			Msg("http request")
	})
}
