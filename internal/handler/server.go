package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/flybeeper/trajectory-backend/internal/config"
	"github.com/flybeeper/trajectory-backend/internal/geo"
	"github.com/flybeeper/trajectory-backend/internal/metrics"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

// Server HTTP сервер API траекторий
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	logger      *utils.Logger
	config      *config.Config
	restHandler *RESTHandler
	hub         *Hub
}

// NewServer создает новый HTTP сервер
func NewServer(cfg *config.Config, provider CollectionProvider, index *geo.Index, sink RecordSink, hub *Hub, logger *utils.Logger) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(RateLimitMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(SecurityHeadersMiddleware())

	restHandler := NewRESTHandler(provider, index, sink, hub, cfg, logger)

	server := &Server{
		router:      router,
		logger:      logger,
		config:      cfg,
		restHandler: restHandler,
		hub:         hub,
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты API
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/trajectories", s.restHandler.ListTrajectories)
		v1.GET("/trajectories/:id", s.restHandler.GetTrajectory)
		v1.GET("/trajectories/:id/position", s.restHandler.GetPosition)
		v1.GET("/trajectories/:id/segment", s.restHandler.GetSegment)
		v1.GET("/trajectories/:id/speeds", s.restHandler.GetSpeeds)
		v1.GET("/trajectories/:id/stats", s.restHandler.GetStats)
		v1.POST("/trajectories/:id/clip", s.restHandler.ClipTrajectory)
		v1.GET("/trajectories/:id/split", s.restHandler.SplitTrajectory)

		v1.GET("/collection", s.restHandler.GetCollection)
		v1.GET("/collection/split", s.restHandler.SplitCollection)

		// Запись требует Bearer token
		protected := v1.Group("/")
		protected.Use(AuthMiddleware(s.logger))
		{
			protected.POST("/records", s.restHandler.PostRecords)
		}
	}

	if s.hub != nil {
		s.router.GET("/ws/v1/updates", s.hub.HandleConnection)
	}
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"address": s.config.Server.Address,
		"mode":    gin.Mode(),
	}).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown корректное завершение сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// healthCheck endpoint живости
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   "1.0.0",
	})
}

// ==================== Middleware ====================

// LoggerMiddleware логирование запросов
func LoggerMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.WithFields(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}).Info("HTTP request completed")
	}
}

// CORSMiddleware настройка CORS
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // В production указать конкретные домены
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// RateLimitMiddleware ограничение частоты запросов
func RateLimitMiddleware() gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(100), 200) // 100 req/sec, burst 200

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limit_exceeded",
				"message": "Too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware заголовки безопасности
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// AuthMiddleware проверка Bearer token
func AuthMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "missing_authorization",
				"message": "Authorization header is required",
			})
			c.Abort()
			return
		}

		if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "invalid_token_format",
				"message": "Invalid authorization format",
			})
			c.Abort()
			return
		}

		token := authHeader[7:]
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "missing_token",
				"message": "Bearer token is required",
			})
			c.Abort()
			return
		}

		// TODO: валидация токена во внешнем identity сервисе
		logger.WithField("token_length", len(token)).Debug("Token validation (stub)")

		c.Set("user_token", token)
		c.Set("user_authenticated", true)

		c.Next()
	}
}
