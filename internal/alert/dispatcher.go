package alert

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
	logger  *log.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []Config, logger *log.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{configs: configs, logger: logger}
}

// Dispatch sends the event to all webhooks whose Events list contains
// event.Kind. Fires goroutines and does not block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg Config) {
			defer d.wg.Done()
			if err := Send(context.Background(), cfg, event); err != nil {
				d.logger.Warn("alert delivery failed", "url", cfg.URL, "kind", event.Kind, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until every in-flight delivery finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func matches(events []string, event Event) bool {
	for _, e := range events {
		if e == event.Kind || e == "*" {
			return true
		}
	}
	return false
}
