package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/market"
	"github.com/rustyeddy/riskledger/pkg/logger"
	"github.com/rustyeddy/riskledger/pkg/response"
	"github.com/rustyeddy/riskledger/risk"
)

// GET /api/v1/accounts/:id/balance
func (s *Server) balance(c *gin.Context) {
	bal, err := s.coord.Ledger().Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, bal)
}

// GET /api/v1/accounts/:id/positions
func (s *Server) positions(c *gin.Context) {
	ps, err := s.coord.Ledger().Positions(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if ps == nil {
		ps = []ledger.Position{}
	}
	response.Success(c, ps)
}

// GET /api/v1/accounts/:id/trades?limit=50
func (s *Server) trades(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		response.BadRequest(c, "limit must be a positive integer")
		return
	}
	if limit > 1000 {
		limit = 1000
	}
	trs, err := s.coord.Ledger().History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if trs == nil {
		trs = []ledger.TradeRecord{}
	}
	response.Success(c, trs)
}

// GET /api/v1/accounts/:id/equity?since=2025-01-02
func (s *Server) equity(c *gin.Context) {
	var since time.Time
	if q := c.Query("since"); q != "" {
		t, err := time.Parse("2006-01-02", q)
		if err != nil {
			response.BadRequest(c, "since must be YYYY-MM-DD")
			return
		}
		since = t
	}
	curve, err := s.coord.Ledger().EquityCurve(c.Request.Context(), c.Param("id"), since)
	if err != nil {
		fail(c, err)
		return
	}
	if curve == nil {
		curve = []ledger.EquitySnapshot{}
	}
	response.Success(c, curve)
}

// GET /api/v1/accounts/:id/risk-params
func (s *Server) getRiskParams(c *gin.Context) {
	v, err := s.coord.Policy(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, v)
}

// PUT /api/v1/accounts/:id/risk-params
//
// The body is a complete risk.Params; the swap is all or nothing. The
// source is taken from ?source= and defaults to "api".
func (s *Server) putRiskParams(c *gin.Context) {
	var p risk.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	source := c.DefaultQuery("source", "api")
	v, err := s.coord.ApplyGuidance(c.Param("id"), p, source)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, v)
}

// CycleRequest is the body of POST /api/v1/cycles. Prices override any
// resolved from market data.
type CycleRequest struct {
	Signals []market.Signal            `json:"signals"`
	Prices  map[string]decimal.Decimal `json:"prices,omitempty"`
	At      *time.Time                 `json:"at,omitempty"`
}

// POST /api/v1/cycles
func (s *Server) runCycle(c *gin.Context) {
	var req CycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	for i := range req.Signals {
		a, err := market.ParseAction(string(req.Signals[i].Action))
		if err != nil {
			response.BadRequest(c, fmt.Sprintf("signals[%d]: %v", i, err))
			return
		}
		req.Signals[i].Action = a
		req.Signals[i].Ticker = market.NormalizeTicker(req.Signals[i].Ticker)
	}

	now := s.clock()
	if req.At != nil {
		now = *req.At
	}

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ctx := c.Request.Context()
	spec := s.spec
	tickers, err := s.coord.Tickers(ctx, req.Signals)
	if err != nil {
		fail(c, err)
		return
	}
	spec.Tickers = tickers
	mkt := coordinator.BuildMarketContext(ctx, now, s.data, s.fc, spec, s.log)
	for t, px := range req.Prices {
		mkt.Prices[market.NormalizeTicker(t)] = px
	}

	rep, err := s.coord.RunCycle(ctx, req.Signals, mkt)
	if err != nil {
		s.log.Error("cycle failed", logger.ErrorField(err))
		fail(c, err)
		return
	}
	response.Created(c, rep)
}

// POST /api/v1/snapshots?date=2025-01-02
func (s *Server) snapshot(c *gin.Context) {
	at := s.clock()
	if q := strings.TrimSpace(c.Query("date")); q != "" {
		t, err := time.Parse("2006-01-02", q)
		if err != nil {
			response.BadRequest(c, "date must be YYYY-MM-DD")
			return
		}
		at = t
	}
	snaps, err := s.coord.SnapshotAll(c.Request.Context(), at)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, snaps)
}
