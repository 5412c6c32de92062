package natsbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/servicekit/errors"
	"github.com/c360/servicekit/event"
	"github.com/c360/servicekit/pkg/retry"
	"github.com/c360/servicekit/service"
)

// Publisher is the slice of the NATS connection the bridge uses.
// *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Options controls connection and subject naming.
type Options struct {
	// URLs lists the NATS servers, joined into one connect string.
	URLs []string

	// SubjectPrefix prefixes every published subject. Events land on
	// "<prefix>.<kind>".
	SubjectPrefix string

	// Name identifies the connection to the server.
	Name string

	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultOptions returns the standard bridge settings: localhost,
// unlimited reconnects, subjects under "servicekit.events".
func DefaultOptions() Options {
	return Options{
		URLs:          []string{nats.DefaultURL},
		SubjectPrefix: "servicekit.events",
		Name:          "servicekit",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Connect establishes a NATS connection suitable for the bridge,
// retrying with backoff while the server comes up.
func Connect(opts Options, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.URLs) == 0 {
		opts.URLs = []string{nats.DefaultURL}
	}

	conn, err := retry.DoWithResult(context.Background(), retry.Startup(), func() (*nats.Conn, error) {
		return dial(opts, logger)
	})
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "Connect", "nats connection")
	}
	return conn, nil
}

func dial(opts Options, logger *slog.Logger) (*nats.Conn, error) {
	return nats.Connect(strings.Join(opts.URLs, ","),
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
}

// Bridge forwards bus events to NATS subjects.
type Bridge struct {
	publisher Publisher
	prefix    string
	logger    *slog.Logger
	unsub     func()
}

// NewBridge attaches to the bus and starts forwarding immediately.
func NewBridge(bus *event.Bus, publisher Publisher, opts Options, deps service.Dependencies) *Bridge {
	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = DefaultOptions().SubjectPrefix
	}
	b := &Bridge{
		publisher: publisher,
		prefix:    prefix,
		logger:    deps.GetLogger().With("component", "natsbridge"),
	}
	b.unsub = bus.SubscribeAll(b.forward)
	return b
}

// Close detaches the bridge from the bus. The NATS connection is owned
// by the caller and stays open.
func (b *Bridge) Close() {
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
}

// Subject returns the subject an event kind is published on.
func (b *Bridge) Subject(kind event.Kind) string {
	return b.prefix + "." + string(kind)
}

func (b *Bridge) forward(ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("event marshal failed", "kind", ev.Kind, "error", err)
		return
	}
	if err := b.publisher.Publish(b.Subject(ev.Kind), data); err != nil {
		b.logger.Warn("event publish failed",
			"subject", b.Subject(ev.Kind), "error", err)
	}
}
