package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/internal/og"
	"main/internal/schema"
	"main/internal/state"
)

// Server exposes a read-only status surface over HTTP. It never
// mutates engine state.
type Server struct {
	ledger   *state.Ledger
	executor *og.Executor
	metrics  *obs.Metrics
	limits   schema.RiskLimits
	srv      *http.Server
}

// NewServer wires the status endpoints.
func NewServer(addr string, ledger *state.Ledger, executor *og.Executor, metrics *obs.Metrics, limits schema.RiskLimits) *Server {
	s := &Server{
		ledger:   ledger,
		executor: executor,
		metrics:  metrics,
		limits:   limits,
	}
	r := chi.NewRouter()
	r.Use(requestLogging)
	r.Get("/healthz", s.handleHealth)
	r.Get("/positions", s.handlePositions)
	r.Get("/orders", s.handleOrders)
	r.Get("/orders/{order_id}", s.handleOrder)
	r.Get("/counters", s.handleCounters)
	r.Get("/metrics", s.handleMetrics)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	logs.Infof("status server listening on %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// positionResponse is the JSON view of a single position.
type positionResponse struct {
	Symbol      string `json:"symbol"`
	Held        int64  `json:"held"`
	PendingBuy  int64  `json:"pending_buy"`
	PendingSell int64  `json:"pending_sell"`
	AvgCost     string `json:"avg_cost"`
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.ledger.Positions()
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionResponse{
			Symbol:      string(p.Symbol),
			Held:        int64(p.Held),
			PendingBuy:  int64(p.PendingBuy),
			PendingSell: int64(p.PendingSell),
			AvgCost:     p.AvgCost.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// orderResponse is the JSON view of an order.
type orderResponse struct {
	ID        string `json:"id"`
	BrokerID  string `json:"broker_id,omitempty"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	State     string `json:"state"`
	Qty       int64  `json:"qty"`
	FilledQty int64  `json:"filled_qty"`
	LeavesQty int64  `json:"leaves_qty"`
	Price     string `json:"price"`
	AvgFill   string `json:"avg_fill"`
	Signal    string `json:"signal,omitempty"`
	CreatedAt string `json:"created_at"`
}

func orderToResponse(o schema.Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		BrokerID:  o.BrokerID,
		Symbol:    string(o.Symbol),
		Side:      o.Side.String(),
		State:     o.State.String(),
		Qty:       int64(o.Qty),
		FilledQty: int64(o.FilledQty),
		LeavesQty: int64(o.LeavesQty),
		Price:     o.Price.String(),
		AvgFill:   o.AvgFill.String(),
		Signal:    o.Signal,
		CreatedAt: time.Unix(0, o.CreatedAt).UTC().Format(time.RFC3339Nano),
	}
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	orders := s.executor.Orders()
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	o, ok := s.executor.Order(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		return
	}
	writeJSON(w, http.StatusOK, orderToResponse(o))
}

// countersResponse reports capital usage against the configured caps.
type countersResponse struct {
	SpentToday          string `json:"spent_today"`
	PortfolioValue      string `json:"portfolio_value"`
	MaxBuyValuePerDay   string `json:"max_buy_value_per_day"`
	MaxPortfolioValue   string `json:"max_portfolio_value"`
	MaxBuyValuePerStock string `json:"max_buy_value_per_stock"`
	OpenOrders          int    `json:"open_orders"`
}

func (s *Server) handleCounters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, countersResponse{
		SpentToday:          s.ledger.SpentToday().String(),
		PortfolioValue:      s.ledger.PortfolioValue().String(),
		MaxBuyValuePerDay:   s.limits.MaxBuyValuePerDay.String(),
		MaxPortfolioValue:   s.limits.MaxPortfolioValue.String(),
		MaxBuyValuePerStock: s.limits.MaxBuyValuePerStock.String(),
		OpenOrders:          s.executor.OpenCount(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Warnf("write status response: %v", err)
	}
}

// requestLogging logs each request's method, path and duration.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logs.Infof("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
