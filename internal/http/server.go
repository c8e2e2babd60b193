// README: Operator API; registers routes and wires middleware.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routescc/internal/auth"
	"routescc/internal/http/handlers"
	"routescc/internal/http/middleware"
	"routescc/internal/logging"
	"routescc/internal/modules/matching"
)

type ServerDeps struct {
	Engine *matching.Service
	Auth   *auth.Service
	Log    logging.Logger
}

type Server struct {
	engine *matching.Service
	auth   *auth.Service
	log    logging.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{engine: deps.Engine, auth: deps.Auth, log: deps.Log}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery(s.log), middleware.Logging(s.log))

	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	mm := handlers.NewMatchMakerHandler(s.engine)
	imp := handlers.NewImportHandler(s.engine)

	api := engine.Group("/api", middleware.AccessKey(s.auth), middleware.Actor())

	api.GET("/rides", mm.ListRides)
	api.POST("/rides", mm.AddRides)
	api.DELETE("/rides/:id", mm.DeleteRide)
	api.POST("/rides/import", imp.ImportRides)

	api.GET("/drivers", mm.ListDrivers)
	api.POST("/drivers", mm.AddDrivers)
	api.DELETE("/drivers/:id", mm.DeleteDriver)
	api.POST("/drivers/import", imp.ImportDrivers)

	api.POST("/assignments", mm.Confirm)
	api.POST("/assignments/undo", mm.Undo)
	api.POST("/rejections", mm.Reject)
	api.POST("/matching/run", mm.RunMatching)

	return engine
}
