// Package mqtt is a thin JSON publish/subscribe client over an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout      = 10 * time.Second
	maxReconnectBackoff = time.Minute
	disconnectQuiesce   = 250
	defaultTimeout      = 30 * time.Second
)

var (
	ErrTimeout     = errors.New("mqtt operation timed out")
	ErrEmptyTopic  = errors.New("empty topic")
	ErrEmptyClient = errors.New("empty client id")
	ErrNilHandler  = errors.New("nil message handler")
)

type Config struct {
	URL      string        `env:"MQTT_ADDRESS"  envDefault:"tcp://localhost:1883"`
	QoS      byte          `env:"MQTT_QOS"      envDefault:"1"`
	ClientID string        `env:"MQTT_CLIENT_ID"`
	Username string        `env:"MQTT_USERNAME"`
	Password string        `env:"MQTT_PASSWORD"`
	Timeout  time.Duration `env:"MQTT_TIMEOUT"  envDefault:"30s"`
	// WillTopic receives an offline notice if the connection drops.
	WillTopic string `env:"MQTT_WILL_TOPIC"`
}

// Handler receives the raw payload of a message. Returned errors are logged.
type Handler func(topic string, payload []byte) error

type PubSub interface {
	// Publish JSON encodes msg and waits for the broker to acknowledge it.
	Publish(ctx context.Context, topic string, msg any) error
	// Subscribe registers handler for topic. Subscriptions survive reconnects.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Unsubscribe(ctx context.Context, topic string) error
	Disconnect(ctx context.Context) error
}

type pubsub struct {
	client  paho.Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	topics map[string]Handler
}

func NewPubSub(cfg Config, logger *slog.Logger) (PubSub, error) {
	if cfg.ClientID == "" {
		return nil, ErrEmptyClient
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	ps := &pubsub{
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  logger.With(slog.String("client_id", cfg.ClientID)),
		topics:  make(map[string]Handler),
	}
	ps.client = paho.NewClient(ps.options(cfg))

	if err := ps.wait(context.Background(), ps.client.Connect()); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	return ps, nil
}

func (ps *pubsub) Publish(ctx context.Context, topic string, msg any) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", topic, err)
	}

	return ps.wait(ctx, ps.client.Publish(topic, ps.qos, false, payload))
}

func (ps *pubsub) Subscribe(ctx context.Context, topic string, handler Handler) error {
	switch {
	case topic == "":
		return ErrEmptyTopic
	case handler == nil:
		return ErrNilHandler
	}

	if err := ps.wait(ctx, ps.client.Subscribe(topic, ps.qos, ps.dispatch(handler))); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	ps.mu.Lock()
	ps.topics[topic] = handler
	ps.mu.Unlock()

	return nil
}

func (ps *pubsub) Unsubscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	ps.mu.Lock()
	delete(ps.topics, topic)
	ps.mu.Unlock()

	if err := ps.wait(ctx, ps.client.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", topic, err)
	}

	return nil
}

func (ps *pubsub) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ps.client.Disconnect(disconnectQuiesce)

	return nil
}

// wait blocks until token completes, ctx ends or the configured timeout
// passes, whichever comes first.
func (ps *pubsub) wait(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(ps.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

func (ps *pubsub) options(cfg Config) *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetMaxReconnectInterval(maxReconnectBackoff)

	if cfg.WillTopic != "" {
		will := fmt.Sprintf(`{"status":"offline","instance_id":%q}`, cfg.ClientID)
		opts.SetWill(cfg.WillTopic, will, 0, false)
	}

	opts.SetOnConnectHandler(ps.resubscribe)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		ps.logger.Warn("MQTT connection lost", slog.Any("error", err))
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		ps.logger.Info("MQTT reconnecting")
	})

	return opts
}

// resubscribe restores subscriptions after a reconnect. Sessions are clean so
// the broker forgets them on every disconnect.
func (ps *pubsub) resubscribe(c paho.Client) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.logger.Info("MQTT connection established", slog.Int("subscriptions", len(ps.topics)))
	for topic, h := range ps.topics {
		token := c.Subscribe(topic, ps.qos, ps.dispatch(h))
		if !token.WaitTimeout(ps.timeout) || token.Error() != nil {
			ps.logger.Warn("MQTT resubscribe failed", slog.String("topic", topic), slog.Any("error", token.Error()))
		}
	}
}

func (ps *pubsub) dispatch(h Handler) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		defer m.Ack()

		if err := h(m.Topic(), m.Payload()); err != nil {
			ps.logger.Warn("Failed to handle MQTT message", slog.String("topic", m.Topic()), slog.Any("error", err))
		}
	}
}
