package notify

import (
	"fmt"
	"strings"

	"streamscraper/internal/worker"
	"streamscraper/pkg/clock"
	"streamscraper/pkg/config"
	"streamscraper/pkg/logger"
)

// FromConfig builds the notifier described by cfg. Transports that cannot
// be built are skipped with a warning so that a broken mail setup never
// prevents streaming. A disabled or empty configuration yields Nop.
func FromConfig(cfg *config.Config, pool *worker.Pool, clk clock.Clock, log logger.Logger) Notifier {
	if log == nil {
		log = logger.GetLogger()
	}
	if !cfg.Notifications.Enabled {
		return Nop{}
	}

	var transports []Transport
	for _, name := range cfg.Notifications.Transports {
		t, err := buildTransport(strings.ToLower(strings.TrimSpace(name)), cfg, log)
		if err != nil {
			log.WithError(err).WarnWithFields("Notification transport disabled", map[string]interface{}{
				"transport": name,
			})
			continue
		}
		transports = append(transports, t)
	}
	if len(transports) == 0 {
		return Nop{}
	}

	kinds := map[Kind]bool{
		DailySummary:     cfg.Notifications.DailySummary,
		RateLimitWarning: cfg.Notifications.RateLimitWarning,
	}
	if !cfg.Notifications.Async {
		pool = nil
	}

	return NewDispatcher(Options{
		Transports:  transports,
		Kinds:       kinds,
		MaxPerHour:  cfg.Notifications.MaxPerHour,
		Pool:        pool,
		SendTimeout: cfg.SMTP.Timeout,
		Clock:       clk,
		Logger:      log,
	})
}

func buildTransport(name string, cfg *config.Config, log logger.Logger) (Transport, error) {
	switch name {
	case "log":
		return NewLogTransport(log), nil
	case "smtp", "email":
		t, err := NewSMTPTransport(cfg.SMTP)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "desktop":
		t, err := NewDesktopTransport()
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", name)
	}
}
