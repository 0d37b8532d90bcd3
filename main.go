package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"wavebot/audio"
	appConfig "wavebot/config"
	"wavebot/controller"
	"wavebot/database"
	"wavebot/discord"
	"wavebot/handlers"
	"wavebot/logging"
	"wavebot/sentry"
	"wavebot/session"
	"wavebot/stats"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}
	if err := appConfig.NewConfig(); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	logging.Setup(appConfig.Config.Options.LogLevel)

	if err := sentry.Init(appConfig.Config.Sentry); err != nil {
		log.Warnf("Error initializing sentry: %v", err)
	}
	defer sentry.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		sentry.ReportError(err)
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	cfg := appConfig.Config

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := session.NewRegistry(db)

	gate := controller.NewGate(registry, controller.Options{
		ConnectTimeout: cfg.Options.ConnectTimeout(),
		StreamTimeout:  cfg.Options.StreamTimeout(),
	})

	client, err := discord.NewSession(cfg.Discord, cfg.Radio.Name)
	if err != nil {
		return err
	}

	manager := handlers.NewManager(handlers.Dependencies{
		Gate:      gate,
		Platform:  handlers.NewDiscordPlatform(client),
		Streams:   handlers.NewAudioAttacher(audio.NewStreamer(cfg.Options.AudioBitrate)),
		Responder: client,
		Stats:     stats.NewCollector(registry, client.GuildCount, db),
		History:   db,
	}, handlers.Options{
		AppID:       cfg.Discord.AppID,
		RadioURL:    cfg.Radio.URL,
		RadioName:   cfg.Radio.Name,
		SupportURL:  cfg.Discord.SupportURL,
		AutoReplay:  cfg.Options.AutoReplay,
		CommandRate: cfg.Options.CommandRatePerMinute,
	})
	// replays stop before voice is released, voice before the gateway
	defer func() {
		manager.Close()
		registry.Close()
		if err := client.Close(); err != nil {
			log.Warnf("Error closing Discord session: %v", err)
		}
	}()

	client.Session.AddHandler(manager.OnInteractionCreate)
	discord.NewVoiceWatcher(gate, func(dropped session.VoiceSession) {
		sentry.SetContext("voice", map[string]interface{}{
			"guildID":   dropped.GuildID,
			"channelID": dropped.ChannelID,
			"status":    string(dropped.Status),
		})
	}).Register(client.Session)

	if err := client.Open(); err != nil {
		return err
	}

	if err := client.RegisterCommands(cfg.Discord.AppID, cfg.Discord.GuildID); err != nil {
		log.Errorf("Error registering commands: %v", err)
		sentry.ReportError(err)
	}

	if !cfg.Discord.InteractionsEnabled() {
		log.Info("DISCORD_PUBLIC_KEY not set, serving interactions over the gateway only")
	}
	if log.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(manager, registry, handlers.RouterOptions{
		PublicKey:  cfg.Discord.PublicKey,
		BotName:    "wavebot",
		Middleware: []gin.HandlerFunc{sentry.GetSentryGin()},
	})

	server := &http.Server{
		Addr:              ":" + cfg.Options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on :%s", cfg.Options.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Error shutting down server: %v", err)
	}
	return nil
}
