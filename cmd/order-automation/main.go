// Команда order-automation запускает сервис голосового заказа еды.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/voiceorder/internal/app"
	"github.com/vladislavdragonenkov/voiceorder/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.SetLevel(log.InfoLevel)
		log.WithField("log_level", level).Warn("unknown log level, using info")
		return
	}
	log.SetLevel(parsed)
}

// readConfig читает файл из VOICEORDER_CONFIG и переменные окружения.
func readConfig(getenv func(string) string, lookup func(string) (string, bool)) (app.Config, []string, error) {
	return app.LoadConfig(getenv(app.EnvConfigPath), lookup)
}

func main() {
	cfg, warnings, err := readConfig(os.Getenv, os.LookupEnv)
	if err != nil {
		setupLogger("info")
		log.WithError(err).Fatal("некорректная конфигурация")
	}
	setupLogger(cfg.LogLevel)
	for _, w := range warnings {
		log.Warn("config: " + w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.Storage.Driver,
		"headless":     cfg.Browser.Headless,
	}).WithFields(version.Get().Fields()).Info("запускаем order-automation")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("order-automation остановлен")
}
