package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wavebot/pages"
	"wavebot/session"
)

type RouterOptions struct {
	PublicKey  string
	BotName    string
	Middleware []gin.HandlerFunc
}

// NewRouter builds the HTTP surface: health, stats, the legal pages linked
// from the bot profile and, when a public key is configured, the
// interactions endpoint.
func NewRouter(manager *Manager, registry *session.Registry, options RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(options.Middleware...)

	router.GET("/healthz", func(c *gin.Context) {
		voice := []gin.H{}
		for _, s := range registry.List() {
			voice = append(voice, gin.H{
				"guildID":   s.GuildID,
				"channelID": s.ChannelID,
				"status":    s.Status,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":       true,
			"sessions": registry.Count(),
			"playing":  registry.CountPlaying(),
			"voice":    voice,
		})
	})

	router.GET("/stats", func(c *gin.Context) {
		if manager.stats == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stats are not available"})
			return
		}
		c.JSON(http.StatusOK, manager.stats.Snapshot(c.Request.Context()))
	})

	privacy := pages.PrivacyPolicy(options.BotName, manager.options.SupportURL)
	terms := pages.TermsOfService(options.BotName, manager.options.SupportURL)
	router.GET("/privacy", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(privacy))
	})
	router.GET("/terms", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(terms))
	})

	if options.PublicKey != "" {
		router.POST("/discord/interactions", manager.InteractionsHandler(options.PublicKey))
	}

	return router
}
