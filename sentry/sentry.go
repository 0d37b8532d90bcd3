package sentry

import (
	"time"

	sentry "github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"wavebot/config"
)

// Init starts the Sentry client. With an empty DSN the SDK is a no-op, so
// the reporting helpers stay safe to call.
func Init(cfg config.SentryConfig) error {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Release:          cfg.Release,
		TracesSampleRate: 1.0,
	}); err != nil {
		return err
	}
	if cfg.DSN == "" {
		log.Debug("sentry disabled: SENTRY_DSN is empty")
	}
	return nil
}

func GetSentryGin() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic: true,
	})
}

func ReportError(err error) {
	sentry.CaptureException(err)
}

func ReportMessage(message string) {
	sentry.CaptureMessage(message)
}

func SetContext(name string, value map[string]interface{}) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetContext(name, value)
	})
}

func Flush() {
	sentry.Flush(2 * time.Second)
}
