package httpjson

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/GollyTicker/ethereum-bridge-when-cheap/db"
	web "github.com/GollyTicker/ethereum-bridge-when-cheap/http"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/logging"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/models"
	"github.com/GollyTicker/ethereum-bridge-when-cheap/services"
)

type handler struct {
	*gin.Engine

	deps   Dependencies
	logger zerolog.Logger
}

type Config struct {
	Dependencies

	Addr           string
	AllowedOrigins string
	LogRequests    bool

	Logger zerolog.Logger
}

type Dependencies struct {
	Database    db.Database
	Pipelines   map[uint64]Pipeline
	Predictions PredictionReader
	Metrics     *services.MetricsService
}

// Pipeline is the read side of a running chain pipeline.
type Pipeline interface {
	Name() string
	Metrics() services.PipelineMetrics
}

// PredictionReader returns the latest prediction of a chain.
type PredictionReader interface {
	Get(chainID uint64) (*models.Prediction, bool)
}

const (
	requestTimeout = 10 * time.Second
	rwTimeout      = 15 * time.Second
)

var (
	ErrNotFound      = errors.New("not found")
	ErrParamRequired = errors.New("param required")

	ErrDatabaseUnreachable = errors.New("database unreachable")
)

func New(cfg Config) *http.Server {
	return &http.Server{
		Addr:    cfg.Addr,
		Handler: newHandler(cfg, gin.New()),

		ReadTimeout:  rwTimeout,
		WriteTimeout: rwTimeout,
		IdleTimeout:  60 * time.Second,

		// Max header bytes (1MB)
		MaxHeaderBytes: 1024 * 1024,
	}
}

func newHandler(cfg Config, router *gin.Engine) *handler {
	h := &handler{
		Engine: router,
		deps:   cfg.Dependencies,
		logger: cfg.Logger.With().Str(logging.FieldModule, "api").Logger(),
	}

	logLevel := zerolog.DebugLevel
	if cfg.LogRequests {
		logLevel = zerolog.InfoLevel
	}

	h.Use(
		gin.Recovery(),
		web.Zerolog(cfg.Logger, logLevel),
		web.Timeout(requestTimeout, cfg.Logger),
		web.CORS(cfg.AllowedOrigins),
	)

	h.setupAPIRoutes()
	h.setupObservabilityRoutes()

	return h
}

func (h *handler) setupAPIRoutes() {
	v1 := h.Group("/api/v1")

	v1.GET("/status", h.getStatus)
	h.setupPredictionRoutes(v1)
}

func (h *handler) setupObservabilityRoutes() {
	h.GET("/health", h.getHealthCheck)

	if h.deps.Metrics != nil {
		h.GET("/metrics", gin.WrapH(h.deps.Metrics.GetHandler()))
	}
}

func (h *handler) getHealthCheck(c *gin.Context) {
	if err := h.deps.Database.Ping(); err != nil {
		h.logger.Warn().Err(err).Msg("Health check failed")
		web.ErrServiceUnavailable(c, ErrDatabaseUnreachable)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
