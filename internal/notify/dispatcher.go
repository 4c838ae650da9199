// File: internal/notify/dispatcher.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/attendant/internal/config"
)

// Dispatcher fans a Message out to every configured channel in the background.
// Wait collects the results; each dispatch is bounded by the configured timeout.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	pending []batch
}

type batch struct {
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(timeout time.Duration, logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout, logger: logger.Named("notify")}
}

// FromConfig wires the channels enabled in cfg. An empty config yields a
// dispatcher that drops every message.
func FromConfig(cfg config.NotifyConfig, logger *zap.Logger) *Dispatcher {
	var ns []Notifier
	if cfg.Email.Enabled() {
		ns = append(ns, NewEmail(cfg.Email, cfg.Timeout, logger))
	}
	if cfg.Webhook.URL != "" {
		ns = append(ns, NewWebhook(cfg.Webhook.URL, cfg.Webhook.Timeout, logger))
	}
	return NewDispatcher(cfg.Timeout, logger, ns...)
}

// Enabled reports whether any channel is configured.
func (d *Dispatcher) Enabled() bool { return len(d.notifiers) > 0 }

// Dispatch starts delivery and returns immediately. Delivery outlives
// cancellation of ctx but not the dispatcher timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	if !d.Enabled() {
		d.logger.Debug("No notification channel configured, dropping message.", zap.String("subject", msg.Subject))
		return
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	g := new(errgroup.Group)
	for _, n := range d.notifiers {
		g.Go(func() error {
			if err := n.Notify(dctx, msg); err != nil {
				d.logger.Warn("Notification failed.", zap.String("channel", n.Name()), zap.Error(err))
				return fmt.Errorf("%s: %w", n.Name(), err)
			}
			return nil
		})
	}

	d.mu.Lock()
	d.pending = append(d.pending, batch{group: g, cancel: cancel})
	d.mu.Unlock()
}

// Wait blocks until every dispatched message has been delivered or timed out.
// A failing channel does not stop the others; the first error of each dispatch
// is returned, joined.
func (d *Dispatcher) Wait() error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	var errs []error
	for _, b := range pending {
		if err := b.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		b.cancel()
	}
	return errors.Join(errs...)
}
