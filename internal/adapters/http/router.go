package http

import (
	"context"

	"github.com/dkeye/chatrelay/internal/adapters/rtc"
	"github.com/dkeye/chatrelay/internal/adapters/signal"
	"github.com/dkeye/chatrelay/internal/app/orch"
	"github.com/dkeye/chatrelay/internal/config"
	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/metrics"
	rest "github.com/dkeye/chatrelay/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type Deps struct {
	Calls   core.CallLog
	Metrics *metrics.Metrics
}

func SetupRouter(ctx context.Context, cfg *config.Config, orch *orch.Orchestrator, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ChatRelaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	ice := cfg.WebRTCICEServers()
	if len(ice) == 0 {
		ice = rtc.DefaultICEServers()
	}
	h := &rest.Handlers{
		Orch:         orch,
		Calls:        deps.Calls,
		ICEServers:   ice,
		HistoryLimit: cfg.HistoryLimit,
	}
	ctrl := signal.NewSignalWSController(orch, signal.OptionsFromConfig(cfg), deps.Metrics)

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})
	api.GET("/online", h.Online)
	api.GET("/ice-servers", h.ICE)
	api.GET("/session", h.GetSession)
	api.POST("/session", h.SetSession)
	api.GET("/calls", h.History)
	api.GET("/calls/live", h.LiveCalls)
	api.PATCH("/calls/:id", h.SettleCall)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
