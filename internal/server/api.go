package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"github.com/EquationDAO/equation-contracts-sub001/internal/engine"
	"github.com/EquationDAO/equation-contracts-sub001/internal/model"
	"github.com/EquationDAO/equation-contracts-sub001/internal/observability"
	"github.com/EquationDAO/equation-contracts-sub001/internal/projection"
	"github.com/EquationDAO/equation-contracts-sub001/internal/query"
)

type apiHandler struct {
	db      *sql.DB
	engine  *engine.Engine
	queries *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

// handlerFunc is an API handler that reports the HTTP status it wrote.
type handlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string) int

func (h *apiHandler) register(mux *runtime.ServeMux) error {
	routes := []struct {
		method   string
		pattern  string
		endpoint string
		fn       handlerFunc
	}{
		{"GET", "/v1/pools", "pools", h.listPools},
		{"GET", "/v1/pools/{pool_id}", "pool", h.getPool},
		{"GET", "/v1/pools/{pool_id}/positions/{account}/{side}", "position", h.getPosition},
		{"GET", "/v1/pools/{pool_id}/liquidity-positions/{account}", "liquidity_position", h.getLiquidityPosition},
		{"GET", "/v1/pools/{pool_id}/funding-rate-history", "funding_rate_history", h.listFundingRateHistory},
		{"GET", "/v1/accounts/{account}/requests", "requests", h.listRequests},
		{"GET", "/v1/accounts/{account}/events", "events", h.listEvents},
		{"GET", "/v1/accounts/{account}/balance", "balance", h.getBalance},
		{"GET", "/v1/requests/{kind}/{index}", "request", h.getRequest},
		{"GET", "/v1/queues", "queues", h.getQueues},
		{"GET", "/v1/multicall", "multicall", h.getMulticall},
		{"POST", "/v1/admin/rebuild-projections", "rebuild_projections", h.rebuildProjections},
		{"POST", "/v1/admin/delay-values", "update_delay_values", h.updateDelayValues},
	}

	for _, rt := range routes {
		rt := rt
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			start := time.Now()
			status := rt.fn(w, r, params)
			if h.metrics != nil {
				h.metrics.QueryRequests.WithLabelValues(rt.endpoint, strconv.Itoa(status)).Inc()
				h.metrics.QueryDuration.WithLabelValues(rt.endpoint).Observe(time.Since(start).Seconds())
			}
		})
		if err != nil {
			return fmt.Errorf("route %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
	return status
}

func writeError(w http.ResponseWriter, status int, msg string) int {
	return writeJSON(w, status, map[string]string{"error": msg})
}

func parseLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func parseInt64Param(r *http.Request, name string) *int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func parseSide(s string) (model.Side, bool) {
	switch strings.ToLower(s) {
	case "long":
		return model.SideLong, true
	case "short":
		return model.SideShort, true
	default:
		return 0, false
	}
}

func (h *apiHandler) listPools(w http.ResponseWriter, _ *http.Request, _ map[string]string) int {
	ids := h.engine.PoolIDs()
	return writeJSON(w, http.StatusOK, map[string]interface{}{"pools": ids})
}

func (h *apiHandler) getPool(w http.ResponseWriter, _ *http.Request, params map[string]string) int {
	id, err := uuid.Parse(params["pool_id"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid pool_id")
	}
	v, ok := h.engine.PoolView(id)
	if !ok {
		return writeError(w, http.StatusNotFound, "pool not found")
	}
	return writeJSON(w, http.StatusOK, v)
}

func (h *apiHandler) getPosition(w http.ResponseWriter, _ *http.Request, params map[string]string) int {
	poolID, err := uuid.Parse(params["pool_id"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid pool_id")
	}
	account, err := uuid.Parse(params["account"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account")
	}
	side, ok := parseSide(params["side"])
	if !ok {
		return writeError(w, http.StatusBadRequest, "side must be long or short")
	}
	v, ok := h.engine.PositionView(poolID, account, side)
	if !ok {
		return writeError(w, http.StatusNotFound, "position not found")
	}
	return writeJSON(w, http.StatusOK, v)
}

func (h *apiHandler) getLiquidityPosition(w http.ResponseWriter, _ *http.Request, params map[string]string) int {
	poolID, err := uuid.Parse(params["pool_id"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid pool_id")
	}
	account, err := uuid.Parse(params["account"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account")
	}
	v, ok := h.engine.LiquidityPositionView(poolID, account)
	if !ok {
		return writeError(w, http.StatusNotFound, "liquidity position not found")
	}
	return writeJSON(w, http.StatusOK, v)
}

func (h *apiHandler) listFundingRateHistory(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	poolID, err := uuid.Parse(params["pool_id"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid pool_id")
	}
	limit := parseLimit(r, 50, 500)
	before := parseInt64Param(r, "before_time")

	entries, err := h.queries.FundingRateHistory(r.Context(), poolID, limit, before)
	if err != nil {
		h.log.Error().Err(err).Msg("funding rate history query failed")
		return writeError(w, http.StatusInternalServerError, "query failed")
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (h *apiHandler) listRequests(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	account, err := uuid.Parse(params["account"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account")
	}
	limit := parseLimit(r, 100, 1000)
	after := parseInt64Param(r, "after_sequence")

	var status *string
	if v := r.URL.Query().Get("status"); v != "" {
		switch v {
		case "created", "executed", "cancelled":
			status = &v
		default:
			return writeError(w, http.StatusBadRequest, "status must be created, executed or cancelled")
		}
	}

	entries, err := h.queries.Requests(r.Context(), account, status, limit, after)
	if err != nil {
		h.log.Error().Err(err).Msg("requests query failed")
		return writeError(w, http.StatusInternalServerError, "query failed")
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"requests": entries})
}

func (h *apiHandler) listEvents(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	account, err := uuid.Parse(params["account"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account")
	}
	limit := parseLimit(r, 100, 1000)
	after := parseInt64Param(r, "after_sequence")

	entries, err := h.queries.AccountEvents(r.Context(), account, limit, after)
	if err != nil {
		h.log.Error().Err(err).Msg("events query failed")
		return writeError(w, http.StatusInternalServerError, "query failed")
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries})
}

func (h *apiHandler) getBalance(w http.ResponseWriter, _ *http.Request, params map[string]string) int {
	account, err := uuid.Parse(params["account"])
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid account")
	}
	return writeJSON(w, http.StatusOK, map[string]string{
		"account": account.String(),
		"balance": h.engine.Balance(account),
	})
}

func (h *apiHandler) getRequest(w http.ResponseWriter, r *http.Request, params map[string]string) int {
	index, err := strconv.ParseUint(params["index"], 10, 64)
	if err != nil {
		return writeError(w, http.StatusBadRequest, "invalid index")
	}
	entry, err := h.queries.Request(r.Context(), params["kind"], index)
	if err != nil {
		h.log.Error().Err(err).Msg("request query failed")
		return writeError(w, http.StatusInternalServerError, "query failed")
	}
	if entry == nil {
		return writeError(w, http.StatusNotFound, "request not found")
	}
	return writeJSON(w, http.StatusOK, entry)
}

func (h *apiHandler) getQueues(w http.ResponseWriter, _ *http.Request, _ map[string]string) int {
	return writeJSON(w, http.StatusOK, h.engine.QueuesView())
}

func (h *apiHandler) getMulticall(w http.ResponseWriter, _ *http.Request, _ map[string]string) int {
	return writeJSON(w, http.StatusOK, h.engine.MulticallView())
}

func (h *apiHandler) updateDelayValues(w http.ResponseWriter, r *http.Request, _ map[string]string) int {
	var body struct {
		MinBlockDelayExecutor uint64 `json:"min_block_delay_executor"`
		MinTimeDelayPublic    int64  `json:"min_time_delay_public"`
		MaxTimeDelay          int64  `json:"max_time_delay"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return writeError(w, http.StatusBadRequest, "invalid body")
	}
	if err := h.engine.UpdateDelayValues(body.MinBlockDelayExecutor, body.MinTimeDelayPublic, body.MaxTimeDelay); err != nil {
		return writeError(w, http.StatusBadRequest, err.Error())
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (h *apiHandler) rebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) int {
	// Synchronous: the admin call returns after the replay finishes.
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	if err := projection.Rebuild(ctx, h.db, h.log); err != nil {
		h.log.Error().Err(err).Msg("projection rebuild failed")
		return writeError(w, http.StatusInternalServerError, "rebuild failed")
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}
