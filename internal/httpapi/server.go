package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sigic/georef/internal/config"
	"github.com/sigic/georef/internal/httpapi/middleware"
)

type Server struct {
	engine  *gin.Engine
	service GeoreferenceService
	cfg     config.HTTPConfig
	logger  *zap.Logger
}

func NewServer(service GeoreferenceService, cfg config.HTTPConfig, logger *zap.Logger) *Server {
	logger = logger.Named("http")
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(logger))
	engine.Use(middleware.CORS(cfg.Environment, cfg.AllowedOrigins))

	s := &Server{
		engine:  engine,
		service: service,
		cfg:     cfg,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/api/v1")
	s.setupGeoreferenceRoutes(v1)
	s.setupDiagnosticsRoutes(v1)
}

func (s *Server) setupGeoreferenceRoutes(group *gin.RouterGroup) {
	georef := group.Group("/georeference")
	if s.cfg.JWTSecret != "" {
		georef.Use(middleware.JWTAuth([]byte(s.cfg.JWTSecret)))
	} else {
		s.logger.Warn("No JWT secret configured, georeference routes are unauthenticated")
	}

	georef.POST("/join", s.join)
	georef.GET("/status/:layer", s.status)
	georef.POST("/reset", s.reset)
}

func (s *Server) setupDiagnosticsRoutes(group *gin.RouterGroup) {
	diag := group.Group("/diagnostics")

	diag.GET("/ping", s.ping)
	diag.GET("/info", s.info)
}
