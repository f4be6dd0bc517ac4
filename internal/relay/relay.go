// Package relay forwards watcher notifications to a message broker.
package relay

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"marketwatch-go/internal/bus"
	"marketwatch-go/internal/metrics"
	"marketwatch-go/internal/watcher"
)

const defaultPrefix = "marketwatch"

// Publisher sends one message to a subject.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// EventSource is the subscription side of the watcher.
type EventSource interface {
	Subscribe(eventType string, handler bus.Handler[watcher.Event]) bus.Handle
	Unsubscribe(h bus.Handle)
}

// Relay publishes period-close (and optionally tick) notifications as JSON on
// <prefix>.<event>.<symbol>, with .<timeframe> appended for periods.
type Relay struct {
	pub    Publisher
	prefix string
	ticks  bool
	log    zerolog.Logger

	mu      sync.Mutex
	src     EventSource
	handles []bus.Handle
}

// Option configures Relay construction parameters.
type Option func(*Relay)

// WithTicks relays tick notifications too.
func WithTicks(enabled bool) Option {
	return func(r *Relay) { r.ticks = enabled }
}

// WithLogger sets the relay logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Relay) { r.log = log }
}

// New builds a relay publishing under prefix (defaults to "marketwatch").
func New(pub Publisher, prefix string, opts ...Option) *Relay {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = defaultPrefix
	}
	r := &Relay{pub: pub, prefix: prefix, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the relay to src. Attaching again first detaches.
func (r *Relay) Attach(src EventSource) {
	r.Detach()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.src = src
	r.handles = append(r.handles, src.Subscribe(watcher.EventPeriodClose, r.handle))
	if r.ticks {
		r.handles = append(r.handles, src.Subscribe(watcher.EventTick, r.handle))
	}
}

// Detach removes the relay handlers.
func (r *Relay) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		r.src.Unsubscribe(h)
	}
	r.handles = nil
	r.src = nil
}

func (r *Relay) handle(ev watcher.Event) {
	subject, ok := r.Subject(ev)
	if !ok {
		return
	}
	if ev.Period != nil {
		p := *ev.Period
		p.Ticks = nil
		ev.Period = &p
	}
	data, err := json.Marshal(ev)
	if err != nil {
		metrics.RelayPublishedTotal.WithLabelValues(ev.Type, "error").Inc()
		r.log.Warn().Err(err).Str("event", ev.Type).Msg("encode notification")
		return
	}
	if err := r.pub.Publish(subject, data); err != nil {
		metrics.RelayPublishedTotal.WithLabelValues(ev.Type, "error").Inc()
		r.log.Warn().Err(err).Str("subject", subject).Msg("relay publish failed")
		return
	}
	metrics.RelayPublishedTotal.WithLabelValues(ev.Type, "ok").Inc()
}

// Subject maps a notification to its broker subject.
func (r *Relay) Subject(ev watcher.Event) (string, bool) {
	switch {
	case ev.Type == watcher.EventPeriodClose && ev.Period != nil:
		return r.prefix + "." + ev.Type + "." + token(ev.Period.Symbol) + "." + strconv.Itoa(ev.Period.Timeframe), true
	case ev.Type == watcher.EventTick && ev.Tick != nil:
		return r.prefix + "." + ev.Type + "." + token(ev.Tick.Symbol), true
	default:
		return "", false
	}
}

// token keeps a symbol inside a single subject token.
func token(symbol string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, symbol)
}
