package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promchain/native/farm"
	"promchain/native/promise"
)

const maxQueryResults = 256

// Server exposes the read side of the ledger and farming state over
// HTTP. All write operations go through the engines directly; the HTTP
// surface is query-only.
type Server struct {
	ledger *promise.Engine
	finder *promise.Finder
	chef   *farm.ChefEngine
	log    *slog.Logger

	router http.Handler
}

// New constructs the HTTP server around the supplied engines.
func New(ledger *promise.Engine, finder *promise.Finder, chef *farm.ChefEngine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{ledger: ledger, finder: finder, chef: chef, log: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/promises/{id}", s.handlePromise)
		r.Get("/promises", s.handlePromises)
		r.Get("/accounts/{address}/promises", s.handleAccountPromises)
		r.Get("/joinable", s.handleJoinable)
		r.Get("/joinable/intervals", s.handleJoinableIntervals)
		r.Get("/joinable/ids", s.handleJoinableIDs)
		r.Get("/pools/{pid}", s.handlePool)
		r.Get("/pools/{pid}/pending/{address}", s.handlePendingReward)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type promiseResponse struct {
	ID              uint64 `json:"id"`
	Creator         string `json:"creator"`
	Joiner          string `json:"joiner,omitempty"`
	CreatorAsset    string `json:"creatorAsset"`
	JoinerAsset     string `json:"joinerAsset"`
	CreatorAmount   string `json:"creatorAmount"`
	JoinerAmount    string `json:"joinerAmount"`
	CreatorDebt     string `json:"creatorDebt"`
	JoinerDebt      string `json:"joinerDebt"`
	CreatorPaidFull bool   `json:"creatorPaidFull"`
	JoinerPaidFull  bool   `json:"joinerPaidFull"`
	Expiration      int64  `json:"expiration"`
	CreatedAt       int64  `json:"createdAt"`
	Executed        bool   `json:"executed"`
	Cancelled       bool   `json:"cancelled"`
	PendingClosed   bool   `json:"pendingClosed"`
}

func renderPromise(p *promise.Promise) promiseResponse {
	resp := promiseResponse{
		ID:              p.ID,
		Creator:         "0x" + hex.EncodeToString(p.Creator[:]),
		CreatorAsset:    p.CreatorAsset,
		JoinerAsset:     p.JoinerAsset,
		CreatorAmount:   p.CreatorAmount.String(),
		JoinerAmount:    p.JoinerAmount.String(),
		CreatorDebt:     p.CreatorDebt.String(),
		JoinerDebt:      p.JoinerDebt.String(),
		CreatorPaidFull: p.CreatorPaidFull,
		JoinerPaidFull:  p.JoinerPaidFull,
		Expiration:      p.Expiration,
		CreatedAt:       p.CreatedAt,
		Executed:        p.Executed,
		Cancelled:       p.Cancelled,
		PendingClosed:   p.PendingClosed,
	}
	if p.Joined() {
		resp.Joiner = "0x" + hex.EncodeToString(p.Joiner[:])
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePromise(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid promise id")
		return
	}
	p, err := s.ledger.Get(id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "promise not found")
		return
	}
	s.writeJSON(w, http.StatusOK, renderPromise(p))
}

func (s *Server) handlePromises(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.finder.PromisesRaw(ids, maxQueryResults)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	out := make([]promiseResponse, 0, len(records))
	for _, p := range records {
		out = append(out, renderPromise(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccountPromises(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := s.ledger.AccountPromises(addr)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (s *Server) handleJoinable(w http.ResponseWriter, r *http.Request) {
	ids, err := s.ledger.JoinablePromises()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

type intervalResponse struct {
	Start int64 `json:"start"`
	Count int   `json:"count"`
}

func (s *Server) handleJoinableIntervals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := parseTimestamp(query.Get("from"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid from timestamp")
		return
	}
	to, err := parseTimestamp(query.Get("to"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid to timestamp")
		return
	}
	intervals, err := s.finder.JoinableIntervals(query.Get("creatorAsset"), query.Get("joinerAsset"), from, to)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := make([]intervalResponse, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, intervalResponse{Start: iv.Start, Count: iv.Count})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleJoinableIDs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	buckets, err := parseTimestampList(query.Get("buckets"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := maxQueryResults
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	ids, err := s.finder.JoinableIDs(query.Get("creatorAsset"), query.Get("joinerAsset"), buckets, limit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

type poolResponse struct {
	PID               uint64 `json:"pid"`
	CreatorAsset      string `json:"creatorAsset"`
	JoinerAsset       string `json:"joinerAsset"`
	AllocPoint        uint64 `json:"allocPoint"`
	LastRewardBlock   uint64 `json:"lastRewardBlock"`
	AccRewardPerShare string `json:"accRewardPerShare"`
	MinRatio          string `json:"minRatio"`
	MaxRatio          string `json:"maxRatio"`
	Expiration        int64  `json:"expiration"`
	TotalWeight       string `json:"totalWeight"`
	RewardAsset       string `json:"rewardAsset"`
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseUint(chi.URLParam(r, "pid"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	pool, err := s.chef.PoolInfo(pid)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "pool not found")
		return
	}
	s.writeJSON(w, http.StatusOK, poolResponse{
		PID:               pid,
		CreatorAsset:      pool.CreatorAsset,
		JoinerAsset:       pool.JoinerAsset,
		AllocPoint:        pool.AllocPoint,
		LastRewardBlock:   pool.LastRewardBlock,
		AccRewardPerShare: pool.AccRewardPerShare.String(),
		MinRatio:          pool.MinRatio.String(),
		MaxRatio:          pool.MaxRatio.String(),
		Expiration:        pool.Expiration,
		TotalWeight:       pool.TotalWeight.String(),
		RewardAsset:       s.chef.RewardAsset(),
	})
}

func (s *Server) handlePendingReward(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseUint(chi.URLParam(r, "pid"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid pool id")
		return
	}
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pending, err := s.chef.PendingReward(pid, addr)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "pool not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"asset":   s.chef.RewardAsset(),
		"pending": pending.String(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 20 {
		return addr, fmt.Errorf("invalid address")
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseIDList(raw string) ([]uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("ids parameter required")
	}
	parts := strings.Split(raw, ",")
	if len(parts) > maxQueryResults {
		return nil, fmt.Errorf("too many ids requested")
	}
	ids := make([]uint64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid promise id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseTimestamp(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

func parseTimestampList(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("buckets parameter required")
	}
	parts := strings.Split(raw, ",")
	if len(parts) > maxQueryResults {
		return nil, fmt.Errorf("too many buckets requested")
	}
	buckets := make([]int64, 0, len(parts))
	for _, part := range parts {
		ts, err := parseTimestamp(part)
		if err != nil {
			return nil, fmt.Errorf("invalid bucket timestamp %q", part)
		}
		buckets = append(buckets, ts)
	}
	return buckets, nil
}
