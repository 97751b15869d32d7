package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"termpool/internal/command"
	"termpool/internal/ingestion"
	"termpool/internal/observability"
	"termpool/internal/persistence"
	"termpool/internal/projection"
	"termpool/internal/query"
)

// HTTPServer serves the query and admin API over HTTP/JSON, plus
// health and Prometheus metrics endpoints.
type HTTPServer struct {
	httpServer *http.Server
	addr       string
	log        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the API handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	InjectService *ingestion.AdminInjectService
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	StartTime     time.Time
}

// NewHTTPServer creates an HTTP server with all routes registered.
func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	log := observability.NewLogger("server")

	h := &apiHandler{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pools", h.listPools)
		r.Get("/pools/{index}", h.getPool)
		r.Get("/pools/{index}/vaults", h.getPoolVaults)
		r.Get("/pools/{index}/activity", h.getPoolActivity)

		r.Get("/users/{id}/positions", h.getPositions)
		r.Get("/users/{id}/balances/{asset}", h.getBalance)
		r.Get("/users/{id}/activity", h.getUserActivity)
		r.Get("/users/{id}/journals", h.getJournals)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/pools/{index}/settle", h.injectLifecycle("settle"))
			r.Post("/pools/{index}/finish", h.injectLifecycle("finish"))
			r.Post("/pools/{index}/liquidate", h.injectLifecycle("liquidate"))
			r.Post("/prices", h.injectPrice)
			r.Post("/config", h.injectConfig)
			r.Post("/projections/rebuild", h.rebuildProjections)
			r.Get("/integrity", h.verifyIntegrity)
			r.Get("/commandlog", h.commandLogInfo)
			r.Get("/status", h.status)
		})
	})

	return &HTTPServer{
		httpServer: &http.Server{Addr: addr, Handler: r},
		addr:       addr,
		log:        log,
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type apiHandler struct {
	deps *ServerDeps
	log  zerolog.Logger
}

// --- Query handlers ---

func (h *apiHandler) listPools(w http.ResponseWriter, r *http.Request) {
	var state *string
	if s := r.URL.Query().Get("state"); s != "" {
		state = &s
	}

	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var after *uint64
	if a := r.URL.Query().Get("after"); a != "" {
		v, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = &v
	}

	pools, err := h.deps.QueryService.ListPools(r.Context(), state, limit, after)
	if err != nil {
		h.internalError(w, "list pools", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": pools})
}

func (h *apiHandler) getPool(w http.ResponseWriter, r *http.Request) {
	index, ok := parsePoolIndex(w, r)
	if !ok {
		return
	}

	pool, err := h.deps.QueryService.GetPool(r.Context(), index)
	if err != nil {
		h.internalError(w, "get pool", err)
		return
	}
	if pool == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("pool %d not found", index))
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

func (h *apiHandler) getPoolVaults(w http.ResponseWriter, r *http.Request) {
	index, ok := parsePoolIndex(w, r)
	if !ok {
		return
	}

	vaults, err := h.deps.QueryService.GetPoolVaults(r.Context(), index)
	if err != nil {
		h.internalError(w, "get pool vaults", err)
		return
	}
	if vaults == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("pool %d not found", index))
		return
	}

	writeJSON(w, http.StatusOK, vaults)
}

func (h *apiHandler) getPoolActivity(w http.ResponseWriter, r *http.Request) {
	index, ok := parsePoolIndex(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	activity := h.deps.QueryService.GetPoolActivity(index, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"activity": activity})
}

func (h *apiHandler) getPositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	positions, err := h.deps.QueryService.GetPositions(r.Context(), userID)
	if err != nil {
		h.internalError(w, "get positions", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (h *apiHandler) getBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	asset := chi.URLParam(r, "asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}

	balance, err := h.deps.QueryService.GetBalance(r.Context(), userID, asset)
	if err != nil {
		h.internalError(w, "get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

func (h *apiHandler) getUserActivity(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	activity := h.deps.QueryService.GetActivity(userID, limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"activity": activity})
}

func (h *apiHandler) getJournals(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var afterSeq *int64
	if a := r.URL.Query().Get("from_sequence"); a != "" {
		v, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from_sequence")
			return
		}
		afterSeq = &v
	}

	journals, err := h.deps.QueryService.GetJournalHistory(r.Context(), userID, limit, afterSeq)
	if err != nil {
		h.internalError(w, "get journals", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": journals})
}

// --- Admin handlers ---

// lifecycleRequest carries the operator identity and the source
// sequence for the pool's command partition.
type lifecycleRequest struct {
	Caller   string `json:"caller"`
	Sequence int64  `json:"sequence"`
}

func (h *apiHandler) injectLifecycle(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := parsePoolIndex(w, r)
		if !ok {
			return
		}

		var req lifecycleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		caller, err := uuid.Parse(req.Caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid caller")
			return
		}

		switch op {
		case "settle":
			err = h.deps.InjectService.InjectSettle(r.Context(), caller, index, req.Sequence)
		case "finish":
			err = h.deps.InjectService.InjectFinish(r.Context(), caller, index, req.Sequence)
		case "liquidate":
			err = h.deps.InjectService.InjectLiquidate(r.Context(), caller, index, req.Sequence)
		}
		if err != nil {
			h.internalError(w, op, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
	}
}

type priceRequest struct {
	Asset         string `json:"asset"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
}

func (h *apiHandler) injectPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price, ok := new(big.Int).SetString(req.Price, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	if err := h.deps.InjectService.InjectPrice(r.Context(), req.Asset, price, req.PriceSequence); err != nil {
		h.internalError(w, "inject price", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

type configRequest struct {
	Caller       string  `json:"caller"`
	Sequence     int64   `json:"sequence"`
	LendFee      *string `json:"lend_fee,omitempty"`
	BorrowFee    *string `json:"borrow_fee,omitempty"`
	SwapSpread   *string `json:"swap_spread,omitempty"`
	MinDeposit   *string `json:"min_deposit,omitempty"`
	FeeCollector *string `json:"fee_collector,omitempty"`
	Paused       *bool   `json:"paused,omitempty"`
}

func (h *apiHandler) injectConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller")
		return
	}

	cmd := &command.ConfigUpdate{
		Caller:   caller,
		Sequence: req.Sequence,
		Paused:   req.Paused,
	}

	fields := []struct {
		name string
		src  *string
		dest **big.Int
	}{
		{"lend_fee", req.LendFee, &cmd.LendFee},
		{"borrow_fee", req.BorrowFee, &cmd.BorrowFee},
		{"swap_spread", req.SwapSpread, &cmd.SwapSpread},
		{"min_deposit", req.MinDeposit, &cmd.MinDeposit},
	}
	for _, f := range fields {
		if f.src == nil {
			continue
		}
		v, ok := new(big.Int).SetString(*f.src, 10)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid "+f.name)
			return
		}
		*f.dest = v
	}

	if req.FeeCollector != nil {
		collector, err := uuid.Parse(*req.FeeCollector)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid fee_collector")
			return
		}
		cmd.FeeCollector = &collector
	}

	if err := h.deps.InjectService.InjectConfigUpdate(r.Context(), cmd); err != nil {
		h.internalError(w, "inject config", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

func (h *apiHandler) rebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), h.deps.DB); err != nil {
		h.internalError(w, "rebuild projections", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

func (h *apiHandler) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		h.internalError(w, "verify integrity", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *apiHandler) commandLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := h.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		h.internalError(w, "command log info", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"last_sequence": latestSeq})
}

func (h *apiHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int64(time.Since(h.deps.StartTime).Seconds()),
		"ready":          h.deps.HealthChecker.IsReady(),
	})
}

// --- helpers ---

func (h *apiHandler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.Error().Err(err).Str("op", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func parsePoolIndex(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool index")
		return 0, false
	}
	return index, true
}

func parseUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return uuid.UUID{}, false
	}
	return userID, true
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
