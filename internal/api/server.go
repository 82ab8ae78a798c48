// Package api provides the REST facade over the Electrum balance
// tracker: a gin engine carrying API key auth, per-client rate limiting,
// CORS and the v1 endpoints for balances, history, address validation
// and server discovery.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/bardlex/gobt/pkg/errors"
	"github.com/bardlex/gobt/pkg/log"
)

// healthPath is the liveness endpoint, exempt from auth, rate limiting
// and request logging.
const healthPath = "/healthz"

// Config holds the API server settings. Callers build it from their own
// configuration layer.
type Config struct {
	ListenAddr string
	ListenPort int

	// APIKey enables authentication when non-empty.
	APIKey string

	// AllowedIPs optionally restricts authenticated requests by client
	// address.
	AllowedIPs []string

	// AllowedOrigins is the CORS origin list. A single "*" entry allows
	// any origin.
	AllowedOrigins []string

	// RateLimitPerMin caps requests per client IP per minute.
	RateLimitPerMin int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxServers caps discovery passes that do not request their own
	// max_servers.
	MaxServers int
}

// Server hosts the REST API over one http.Server.
type Server struct {
	cfg    *Config
	logger *log.Logger
	engine *gin.Engine
	http   *http.Server
}

// NewServer assembles the gin engine, middleware chain and routes.
func NewServer(cfg *Config, handler *Handler, logger *log.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		requestLogger(logger),
		securityHeaders(),
	)
	setupCORS(engine, cfg)

	registerRoutes(engine, handler, cfg)

	return &Server{
		cfg:    cfg,
		logger: logger.WithComponent("api"),
		engine: engine,
		http: &http.Server{
			Addr:         net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.ListenPort)),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

func setupCORS(r *gin.Engine, cfg *Config) {
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Content-Length", "Accept", "X-API-Key"},
		MaxAge:       12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
}

// registerRoutes mounts the liveness endpoint and the rate limited,
// authenticated v1 group.
func registerRoutes(r *gin.Engine, h *Handler, cfg *Config) {
	r.GET(healthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "ok",
		})
	})

	v1 := r.Group("/api/v1", rateLimit(cfg.RateLimitPerMin), apiKeyAuth(cfg.APIKey, cfg.AllowedIPs))
	{
		v1.GET("/balance/:address", h.GetBalance)
		v1.POST("/balances", h.GetBalances)
		v1.GET("/history/:address", h.GetHistory)
		v1.POST("/validate", h.ValidateAddress)
		v1.GET("/server-info", h.GetServerInfo)
		v1.POST("/discover-servers", h.DiscoverServers)
	}
}

// Run starts serving and blocks until the listener fails or Shutdown is
// called. A shutdown-initiated close is a clean return.
func (s *Server) Run() error {
	s.logger.Info("api server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, errors.ErrorTypeInternal, "http_serve",
			"API server failed")
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
