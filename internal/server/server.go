package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"pns/internal/app"
	"pns/internal/cache"
	"pns/internal/config"
	"pns/internal/hmacauth"
	"pns/internal/orchestrator"
	"pns/internal/pnserr"
)

// Service is what the API needs from the application.
type Service interface {
	Connect(ctx context.Context) (string, error)
	SwitchNetwork(ctx context.Context) error
	Mint(ctx context.Context, domain, record string) (orchestrator.Result, error)
	Update(ctx context.Context, domain, record string) (orchestrator.Result, error)
	Refresh(ctx context.Context) error
	View() cache.View
	Status() app.Status
	PingRPC(ctx context.Context) error
	PingStore(ctx context.Context) error
}

type Server struct {
	svc        Service
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *Metrics
	logger     *slog.Logger
}

func NewServer(cfg *config.AppConfig, svc Service, metrics *Metrics, logger *slog.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		svc: svc,
		hmac: &hmacauth.Verifier{
			Secret:  cfg.Service.HMACSecret,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: metrics,
		logger:  logger,
	}
	s.hmac.OnReject = func(r *http.Request, err error) {
		logger.WarnContext(r.Context(), "rejected unsigned request",
			"request_id", r.Header.Get("X-Request-Id"),
			"path", r.URL.Path,
			"error", err,
		)
	}

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           s.routes(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(s.observeRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Handle("/metrics", s.metrics.handler())
		r.Get("/state", s.handleState)
		r.Get("/domains", s.handleListDomains)

		r.Group(func(r chi.Router) {
			r.Use(s.hmac.Middleware)
			r.Post("/connect", s.handleConnect)
			r.Post("/network/switch", s.handleSwitchNetwork)
			r.Post("/domains", s.handleMint)
			r.Put("/domains/{name}/record", s.handleUpdateRecord)
			r.Post("/domains/refresh", s.handleRefresh)
		})
	})
	return r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.logger.Info("API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type mintRequest struct {
	Domain string `json:"domain"`
	Record string `json:"record"`
}

type recordRequest struct {
	Record string `json:"record"`
}

type stepResponse struct {
	Step   string `json:"step"`
	TxHash string `json:"txHash,omitempty"`
	Error  string `json:"error,omitempty"`
}

type workflowResponse struct {
	ID         string         `json:"id,omitempty"`
	Workflow   string         `json:"workflow"`
	Domain     string         `json:"domain"`
	Record     string         `json:"record"`
	Price      string         `json:"price,omitempty"`
	Outcome    string         `json:"outcome"`
	Registered bool           `json:"registered"`
	Steps      []stepResponse `json:"steps"`
	Error      string         `json:"error,omitempty"`
	Kind       string         `json:"kind,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var payload mintRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json payload"})
		return
	}
	payload.Domain = strings.TrimSpace(payload.Domain)

	res, err := s.svc.Mint(r.Context(), payload.Domain, payload.Record)
	s.writeWorkflow(w, r, http.StatusCreated, res, err)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var payload recordRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json payload"})
		return
	}

	res, err := s.svc.Update(r.Context(), chi.URLParam(r, "name"), payload.Record)
	s.writeWorkflow(w, r, http.StatusOK, res, err)
}

func (s *Server) writeWorkflow(w http.ResponseWriter, r *http.Request, okStatus int, res orchestrator.Result, err error) {
	resp := workflowResponse{
		ID:         res.ID,
		Workflow:   res.Workflow,
		Domain:     res.Domain,
		Record:     res.Record,
		Price:      res.Price,
		Outcome:    res.Outcome.String(),
		Registered: res.Registered(),
		Steps:      make([]stepResponse, 0, len(res.Steps)),
	}
	for _, step := range res.Steps {
		sr := stepResponse{Step: string(step.Step), TxHash: step.TxHash}
		if step.Err != nil {
			sr.Error = step.Err.Error()
		}
		resp.Steps = append(resp.Steps, sr)
	}

	status := okStatus
	if err != nil {
		status = statusFor(err)
		resp.Error = err.Error()
		resp.Kind = string(pnserr.KindOf(err))
		s.logger.WarnContext(r.Context(), "workflow request failed",
			"request_id", r.Header.Get("X-Request-Id"),
			"workflow", res.Workflow,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if _, err := s.svc.Connect(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.SwitchNetwork(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Refresh(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.View())
}

func (s *Server) handleListDomains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.View())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	start := time.Now()
	rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.svc.PingRPC(rpcCtx); err != nil {
		rpcInfo.Error = err.Error()
		overallHealthy = false
	} else {
		rpcInfo.Connected = true
		rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	}

	storeInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	storeCtx, cancelStore := context.WithTimeout(ctx, 2*time.Second)
	defer cancelStore()
	if err := s.svc.PingStore(storeCtx); err != nil {
		storeInfo.Connected = false
		storeInfo.Error = err.Error()
		overallHealthy = false
	}

	view := s.svc.View()
	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status       string      `json:"status"`
		RPC          interface{} `json:"rpc"`
		Snapshot     interface{} `json:"snapshot"`
		CacheEntries int         `json:"cache_entries"`
		CacheStale   bool        `json:"cache_stale"`
	}{
		Status:       status,
		RPC:          rpcInfo,
		Snapshot:     storeInfo,
		CacheEntries: len(view.Entries),
		CacheStale:   view.Stale,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logger.WarnContext(r.Context(), "request failed",
		"request_id", r.Header.Get("X-Request-Id"),
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(pnserr.KindOf(err))})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout
	}
	switch pnserr.KindOf(err) {
	case pnserr.KindInvalidDomainLength:
		return http.StatusBadRequest
	case pnserr.KindNotConnected, pnserr.KindWrongNetwork:
		return http.StatusConflict
	case pnserr.KindUserRejected, pnserr.KindNetworkSwitchDenied:
		return http.StatusForbidden
	case pnserr.KindProviderMissing:
		return http.StatusServiceUnavailable
	case pnserr.KindRegistrationFailed, pnserr.KindRecordSetFailed, pnserr.KindFetchFailed:
		return http.StatusBadGateway
	case pnserr.KindWorkflowBusy:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.incRequest(route, status)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}
