package query

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"TranchePool/internal/observability"
	"TranchePool/internal/pool"
	"TranchePool/internal/position"
)

// Service provides read-only access to the engine's committed state. Reads
// never block operations: each one sees the last committed state.
type Service struct {
	pool    *pool.Pool
	metrics *observability.Metrics
}

func NewService(p *pool.Pool, metrics *observability.Metrics) *Service {
	return &Service{pool: p, metrics: metrics}
}

func (s *Service) observe(endpoint string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// Assets returns the per-token accounting across all tranches.
func (s *Service) Assets() (views []pool.AssetView, err error) {
	defer func(start time.Time) { s.observe("assets", start, err) }(time.Now())
	return s.pool.Assets()
}

// Asset returns one token's accounting.
func (s *Service) Asset(symbol string) (view pool.AssetView, err error) {
	defer func(start time.Time) { s.observe("asset", start, err) }(time.Now())
	return s.pool.Asset(symbol)
}

// Tranches returns each tranche with its current valuation band.
func (s *Service) Tranches() (views []pool.TrancheView, err error) {
	defer func(start time.Time) { s.observe("tranches", start, err) }(time.Now())
	return s.pool.Tranches()
}

// PoolValueResponse is the pool-wide valuation summary.
type PoolValueResponse struct {
	MinValue     *big.Int `json:"min_value"`
	MaxValue     *big.Int `json:"max_value"`
	VirtualValue *big.Int `json:"virtual_value"`
}

// PoolValue returns the pool valuation at both price bounds plus the cached
// fee-curve value.
func (s *Service) PoolValue() (resp PoolValueResponse, err error) {
	defer func(start time.Time) { s.observe("pool_value", start, err) }(time.Now())
	lo, err := s.pool.PoolValue(false)
	if err != nil {
		return PoolValueResponse{}, err
	}
	hi, err := s.pool.PoolValue(true)
	if err != nil {
		return PoolValueResponse{}, err
	}
	return PoolValueResponse{
		MinValue:     lo,
		MaxValue:     hi,
		VirtualValue: s.pool.VirtualPoolValue(),
	}, nil
}

// Positions returns open positions, optionally filtered to one owner.
func (s *Service) Positions(owner *uuid.UUID) (views []pool.PositionView, err error) {
	defer func(start time.Time) { s.observe("positions", start, err) }(time.Now())
	all, err := s.pool.Positions()
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return all, nil
	}
	want := owner.String()
	out := make([]pool.PositionView, 0, len(all))
	for _, v := range all {
		if v.Owner == want {
			out = append(out, v)
		}
	}
	return out, nil
}

// Position returns one position marked to current prices.
func (s *Service) Position(key position.Key) (view pool.PositionView, err error) {
	defer func(start time.Time) { s.observe("position", start, err) }(time.Now())
	return s.pool.Position(key)
}

// Orders returns all conditional orders.
func (s *Service) Orders() (views []pool.OrderView, err error) {
	defer func(start time.Time) { s.observe("orders", start, err) }(time.Now())
	return s.pool.Orders(), nil
}
