package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/adapters/signal"
	"github.com/seojin-dev/classroom/internal/config"
	"github.com/seojin-dev/classroom/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, ctrl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ClassroomSessions", store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/room", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/room.html")
	})

	r.GET("/health", func(c *gin.Context) {
		rooms := ctrl.Orch.Roster.List()
		participants := 0
		for _, ri := range rooms {
			participants += ri.MemberCount
		}
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"rooms":        len(rooms),
			"participants": participants,
		})
	})

	// Remember the last display name across visits so the join form can
	// prefill it. Cosmetic, not identity: routing never uses names.
	r.GET("/api/profile", func(c *gin.Context) {
		s := sessions.Default(c)
		name, _ := s.Get("display_name").(string)
		c.JSON(http.StatusOK, gin.H{"name": name})
	})
	r.POST("/api/profile", func(c *gin.Context) {
		var body struct {
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Name == "" || len(body.Name) > domain.MaxNameLen {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_name"})
			return
		}
		s := sessions.Default(c)
		s.Set("display_name", body.Name)
		if err := s.Save(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session_save"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": body.Name})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
