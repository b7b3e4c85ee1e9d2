// Package mqtt - publishes servo commands to the MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("mqtt not connected")

// Defaults matching the hydroponics deployment.
const (
	DefaultPort           = 1883
	DefaultTopic          = "hidroponia/servo"
	DefaultConnectTimeout = 5 * time.Second
)

// Config configures the broker connection.
type Config struct {
	// Broker is the broker host name or address.
	Broker string `json:"broker" yaml:"broker"`
	// Port is the broker TCP port.
	Port int `json:"port" yaml:"port"`
	// Topic is the command topic.
	Topic string `json:"topic" yaml:"topic"`
	// ClientID identifies the session. Empty generates a unique id.
	ClientID string `json:"client_id" yaml:"client_id"`
	// QoS is the publish quality of service (0, 1 or 2).
	QoS byte `json:"qos" yaml:"qos"`
	// ConnectTimeout bounds the initial connection.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// URL returns the broker URL.
func (c Config) URL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

// Stats contains publisher statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Publisher publishes payloads without waiting for broker acknowledgement.
type Publisher struct {
	cfg    Config
	client paho.Client
	logger *zap.SugaredLogger

	connected *atomic.Bool
	published *atomic.Uint64
	errors    *atomic.Uint64
	inflight  sync.WaitGroup
}

// New creates a publisher for cfg. Call Connect before publishing.
//
// Arguments:
//   - cfg: The broker configuration.
//   - logger: The logger for connection and delivery events.
//
// Returns:
//   - *Publisher: The publisher.
func New(cfg Config, logger *zap.SugaredLogger) *Publisher {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "phasecam-" + uuid.NewString()[:8]
	}

	p := newPublisher(cfg, logger)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.URL())
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	opts.OnConnect = func(paho.Client) {
		p.connected.Store(true)
		logger.Infow("mqtt connection established", "broker", cfg.URL(), "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.connected.Store(false)
		logger.Warnw("mqtt connection lost, will auto-reconnect", "broker", cfg.URL(), "error", err)
	}

	p.client = paho.NewClient(opts)
	return p
}

// NewWithClient creates a publisher around an existing client.
func NewWithClient(cfg Config, client paho.Client, logger *zap.SugaredLogger) *Publisher {
	p := newPublisher(cfg, logger)
	p.client = client
	p.connected.Store(client.IsConnected())
	return p
}

func newPublisher(cfg Config, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		cfg:       cfg,
		logger:    logger,
		connected: atomic.NewBool(false),
		published: atomic.NewUint64(0),
		errors:    atomic.NewUint64(0),
	}
}

// Config returns the effective configuration.
func (p *Publisher) Config() Config {
	return p.cfg
}

// Connect establishes the broker connection.
//
// Arguments:
//   - ctx: Cancels the wait; the connection attempt itself is bounded by ConnectTimeout.
//
// Returns:
//   - error: An error if the broker cannot be reached in time.
func (p *Publisher) Connect(ctx context.Context) error {
	p.logger.Infow("connecting to mqtt broker", "broker", p.cfg.URL())

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(p.cfg.ConnectTimeout):
		return errors.Errorf("mqtt connection to %s timed out after %s", p.cfg.URL(), p.cfg.ConnectTimeout)
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "mqtt connect")
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "mqtt connection to %s failed", p.cfg.URL())
	}

	p.connected.Store(true)
	return nil
}

// Publish sends payload to topic.
//
// Delivery is not awaited: the call returns once the message is handed to the
// client, and the delivery outcome is logged when the broker answers.
//
// Arguments:
//   - topic: The destination topic.
//   - payload: The message body.
//
// Returns:
//   - error: ErrNotConnected while disconnected, or an immediate client error.
func (p *Publisher) Publish(topic, payload string) error {
	if !p.connected.Load() {
		p.errors.Inc()
		return ErrNotConnected
	}

	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			p.errors.Inc()
			return errors.Wrapf(err, "publish to %s", topic)
		}
		p.published.Inc()
		return nil
	default:
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		<-token.Done()
		if err := token.Error(); err != nil {
			p.errors.Inc()
			p.logger.Warnw("mqtt delivery failed", "topic", topic, "error", err)
			return
		}
		p.published.Inc()
		p.logger.Debugw("mqtt delivered", "topic", topic, "payload", payload)
	}()

	return nil
}

// Disconnect closes the broker connection after pending deliveries settle.
func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	}
	p.connected.Store(false)
	p.inflight.Wait()
}

// Stats returns publisher statistics.
func (p *Publisher) Stats() Stats {
	return Stats{
		Connected: p.connected.Load(),
		Published: p.published.Load(),
		Errors:    p.errors.Load(),
	}
}
