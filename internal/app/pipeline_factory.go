package app

import (
	"github.com/vladislavdragonenkov/voiceorder/internal/service/automation"
)

// newPipeline собирает пайплайн автоматизации из готовых зависимостей.
func newPipeline(cfg Config, deps *Dependencies) *automation.Pipeline {
	opts := []automation.Option{
		automation.WithCredentials(automation.Credentials{
			Email:    cfg.Credentials.Email,
			Password: cfg.Credentials.Password,
		}),
		automation.WithRunRepository(deps.Runs),
		automation.WithTimeline(deps.Timeline),
		automation.WithMetrics(deps.Metrics),
		automation.WithLogger(deps.Logger.WithField("component", "pipeline")),
	}
	// *messaging.Fanout(nil) в интерфейсе не равен nil.
	if deps.Publisher != nil {
		opts = append(opts, automation.WithPublisher(deps.Publisher))
	}
	return automation.New(deps.Launcher, deps.Matcher, opts...)
}
