package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/swap/coordination"
	"github.com/Aidin1998/swapengine/internal/swap/engine"
	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/internal/swap/workers"
	"github.com/Aidin1998/swapengine/pkg/errors"
	"github.com/Aidin1998/swapengine/pkg/validation"
)

const defaultHistoryLimit = 50

// SwapService is the engine surface exposed over HTTP.
type SwapService interface {
	Execute(ctx context.Context, req model.Request) (model.Swap, error)
	ActiveSwaps() []model.Swap
	History(limit int) []model.Swap
	Swap(id uuid.UUID) (model.Swap, error)
	Stats() engine.Stats
	Workers() []workers.Info
	Coordination() coordination.StateSnapshot
}

// Server represents the HTTP server
type Server struct {
	logger  *zap.Logger
	swapSvc SwapService
	service string
}

// NewServer creates a new HTTP server
func NewServer(logger *zap.Logger, swapSvc SwapService, serviceName string) *Server {
	if serviceName == "" {
		serviceName = "swapengine"
	}
	return &Server{
		logger:  logger.Named("http"),
		swapSvc: swapSvc,
		service: serviceName,
	}
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(s.service))
	router.Use(cors.Default())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			swaps := v1.Group("/swaps")
			{
				swaps.POST("", s.handleExecuteSwap)
				swaps.GET("/active", s.handleGetActiveSwaps)
				swaps.GET("/history", s.handleGetHistory)
				swaps.GET("/:id", s.handleGetSwap)
			}

			v1.GET("/stats", s.handleGetStats)
			v1.GET("/workers", s.handleGetWorkers)
			v1.GET("/coordination", s.handleGetCoordination)
		}
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.swapSvc.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"active_swaps": st.ActiveCount,
		"idle_workers": st.IdleWorkerCount,
	})
}

func (s *Server) handleExecuteSwap(c *gin.Context) {
	var req model.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, errors.ErrInvalidRequest.Explain("malformed swap request: %v", err))
		return
	}

	swap, err := s.swapSvc.Execute(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, swap)
}

func (s *Server) handleGetActiveSwaps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"swaps": s.swapSvc.ActiveSwaps()})
}

func (s *Server) handleGetHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(c, errors.ErrInvalidRequest.Explain("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"swaps": s.swapSvc.History(limit)})
}

func (s *Server) handleGetSwap(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.writeError(c, errors.ErrInvalidRequest.Explain("invalid swap id %q", c.Param("id")))
		return
	}

	swap, err := s.swapSvc.Swap(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, swap)
}

func (s *Server) handleGetStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.swapSvc.Stats())
}

func (s *Server) handleGetWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workers": s.swapSvc.Workers()})
}

func (s *Server) handleGetCoordination(c *gin.Context) {
	c.JSON(http.StatusOK, s.swapSvc.Coordination())
}

// writeError renders err as RFC 7807 problem details.
func (s *Server) writeError(c *gin.Context, err error) {
	pd := errors.FromError(err, c.Request.URL.Path)

	var fieldErrs validation.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details := make([]errors.ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, errors.ValidationError{
				Field:   fe.Field,
				Value:   fe.Value,
				Message: fe.Message,
				Code:    fe.Tag,
			})
		}
		pd.WithValidationErrors(details)
	}

	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		pd.WithTraceID(sc.TraceID().String())
	}

	if pd.Status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}

	body, mErr := json.Marshal(pd)
	if mErr != nil {
		c.AbortWithStatus(pd.Status)
		return
	}
	c.Data(pd.Status, "application/problem+json", body)
}
