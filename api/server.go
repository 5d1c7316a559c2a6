// Package api exposes the engine over HTTP: portfolio snapshots, the change
// summary, simulated prices, catalog administration and the event stream.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfolio/valuation/internal/catalog"
	"github.com/quantfolio/valuation/internal/simulator"
	"github.com/quantfolio/valuation/internal/valuation"
	"github.com/quantfolio/valuation/internal/ws"
	"github.com/quantfolio/valuation/pkg/models"
)

var validate = validator.New()

// Server is the HTTP front of the engine.
type Server struct {
	router   *gin.Engine
	logger   *zap.Logger
	store    *catalog.CachedStore
	sim      *simulator.Service
	coord    *valuation.Coordinator
	reporter *valuation.Reporter
	hub      *ws.Hub
}

// NewServer wires the routes over the engine components.
func NewServer(logger *zap.Logger, store *catalog.CachedStore, sim *simulator.Service,
	coord *valuation.Coordinator, reporter *valuation.Reporter, hub *ws.Hub) *Server {
	s := &Server{
		logger:   logger,
		store:    store,
		sim:      sim,
		coord:    coord,
		reporter: reporter,
		hub:      hub,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.Default())

	s.router = router
	s.registerRoutes()
	return s
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.hub != nil {
		s.router.GET("/ws", gin.WrapH(s.hub))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/portfolio", s.getPortfolio)
		v1.GET("/portfolio/summary", s.getSummary)
		v1.GET("/prices", s.getPrices)
		v1.GET("/prices/:ticker", s.getPrice)
		v1.GET("/securities", s.listSecurities)
		v1.GET("/securities/:ticker", s.getSecurity)
		v1.PUT("/securities", s.saveSecurity)
		v1.DELETE("/securities/:ticker", s.deleteSecurity)
		v1.GET("/cache/stats", s.getCacheStats)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	snap := s.coord.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": snap.Version,
	})
}

func (s *Server) getPortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.Snapshot())
}

func (s *Server) getSummary(c *gin.Context) {
	summary := s.reporter.Summarize()
	if summary == nil {
		c.JSON(http.StatusOK, gin.H{"changed": false})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Stats())
}

func (s *Server) getPrices(c *gin.Context) {
	c.JSON(http.StatusOK, s.sim.AllPrices())
}

func (s *Server) getPrice(c *gin.Context) {
	ticker := c.Param("ticker")
	price := s.sim.CurrentPrice(ticker)
	c.JSON(http.StatusOK, gin.H{
		"ticker": models.NormalizeTicker(ticker),
		"price":  price,
	})
}

func (s *Server) listSecurities(c *gin.Context) {
	ctx := c.Request.Context()
	if kind := c.Query("kind"); kind != "" {
		k := models.SecurityKind(kind)
		if !k.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown security kind"})
			return
		}
		secs, err := s.store.FindByKind(ctx, k)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, secs)
		return
	}

	secs, err := s.store.FindAll(ctx)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, secs)
}

func (s *Server) getSecurity(c *gin.Context) {
	sec, err := s.store.FindByTicker(c.Request.Context(), c.Param("ticker"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sec)
}

// saveSecurityRequest is the admin payload for creating or replacing a
// security definition.
type saveSecurityRequest struct {
	Ticker     string  `json:"ticker" validate:"required,max=32"`
	Kind       string  `json:"kind" validate:"required,oneof=STOCK CALL PUT"`
	Strike     *string `json:"strike,omitempty"`
	Maturity   *string `json:"maturity,omitempty"` // YYYY-MM-DD
	Drift      float64 `json:"drift"`
	Volatility float64 `json:"volatility"`
}

func (s *Server) saveSecurity(c *gin.Context) {
	var req saveSecurityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sec := &models.Security{
		Ticker:     req.Ticker,
		Kind:       models.SecurityKind(req.Kind),
		Drift:      decimal.NewFromFloat(req.Drift),
		Volatility: decimal.NewFromFloat(req.Volatility),
	}
	if req.Strike != nil {
		strike, err := decimal.NewFromString(*req.Strike)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strike"})
			return
		}
		sec.Strike = &strike
	}
	if req.Maturity != nil {
		maturity, err := time.Parse("2006-01-02", *req.Maturity)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maturity, expected YYYY-MM-DD"})
			return
		}
		sec.Maturity = &maturity
	}

	saved, err := s.store.Save(c.Request.Context(), sec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) deleteSecurity(c *gin.Context) {
	if err := s.store.Delete(c.Request.Context(), c.Param("ticker")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) writeError(c *gin.Context, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "security not found"})
		return
	}
	s.logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
