// Package api exposes the coordinator over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rustyeddy/riskledger/coordinator"
	"github.com/rustyeddy/riskledger/ledger"
	"github.com/rustyeddy/riskledger/market"
	"github.com/rustyeddy/riskledger/pkg/logger"
	"github.com/rustyeddy/riskledger/pkg/response"
	"github.com/rustyeddy/riskledger/risk"
	"github.com/rustyeddy/riskledger/stops"
)

// Server serves read access to the ledger, guidance pushes and cycle
// submission.
type Server struct {
	coord   *coordinator.Coordinator
	data    market.DataProvider
	fc      market.Forecaster
	spec    coordinator.ContextSpec
	log     *logger.Logger
	clock   func() time.Time
	version string

	// cycles run one at a time
	cycleMu sync.Mutex
}

type Option func(*Server)

// WithMarketData resolves market context for submitted cycles.
func WithMarketData(data market.DataProvider, fc market.Forecaster, spec coordinator.ContextSpec) Option {
	return func(s *Server) {
		s.data = data
		s.fc = fc
		s.spec = spec
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func NewServer(coord *coordinator.Coordinator, opts ...Option) *Server {
	s := &Server{coord: coord, clock: time.Now, version: "dev"}
	for _, o := range opts {
		o(s)
	}
	s.log = logger.OrNop(s.log).Named("api")
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/leaderboard", s.leaderboard)
		v1.GET("/accounts", s.listAccounts)
		v1.POST("/cycles", s.runCycle)
		v1.POST("/snapshots", s.snapshot)

		acct := v1.Group("/accounts/:id")
		acct.GET("/balance", s.balance)
		acct.GET("/positions", s.positions)
		acct.GET("/trades", s.trades)
		acct.GET("/equity", s.equity)
		acct.GET("/stops", s.listStops)
		acct.GET("/risk-params", s.getRiskParams)
		acct.PUT("/risk-params", s.putRiskParams)
	}
	return r
}

// Serve runs the router on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http listening", logger.StringField("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("http shutting down")
		return srv.Shutdown(shutdown)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		log := s.log.With(
			logger.StringField("method", c.Request.Method),
			logger.StringField("path", c.Request.URL.Path),
			logger.IntField("status", status),
			logger.Field("latency", time.Since(start)),
		)
		if status >= http.StatusBadRequest {
			log.Warn("request failed")
			return
		}
		log.Debug("request")
	}
}

// fail maps domain errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount), errors.Is(err, ledger.ErrUnknownTicker):
		response.NotFound(c, err.Error())
	case errors.Is(err, ledger.ErrValidation):
		response.BadRequest(c, err.Error())
	case ledger.IsRejection(err):
		response.Unprocessable(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}

func (s *Server) health(c *gin.Context) {
	response.Success(c, gin.H{
		"status":   "ok",
		"version":  s.version,
		"time":     s.clock().UTC(),
		"accounts": len(s.coord.AccountIDs()),
	})
}

func (s *Server) leaderboard(c *gin.Context) {
	board, err := s.coord.Leaderboard(c.Request.Context(), s.clock())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, board)
}

type accountView struct {
	ledger.Account
	Balance ledger.Balance `json:"balance"`
	Policy  risk.Versioned `json:"policy"`
}

func (s *Server) listAccounts(c *gin.Context) {
	ctx := c.Request.Context()
	var out []accountView
	for _, id := range s.coord.AccountIDs() {
		a, err := s.coord.Ledger().Account(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		bal, err := s.coord.Ledger().Balance(ctx, id)
		if err != nil {
			fail(c, err)
			return
		}
		pol, err := s.coord.Policy(id)
		if err != nil {
			fail(c, err)
			return
		}
		out = append(out, accountView{Account: a, Balance: bal, Policy: pol})
	}
	response.Success(c, out)
}

func (s *Server) listStops(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.coord.Policy(id); err != nil {
		fail(c, err)
		return
	}
	list, err := s.coord.Stops().List(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []stops.State{}
	}
	response.Success(c, list)
}
