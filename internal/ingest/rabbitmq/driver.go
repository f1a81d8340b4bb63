// Package rabbitmq adapts an amqp091-go consumer to the task runtime's
// Consumer interface, grounded on the teacher's internal/ingest/rabbitmq.Adapter
// (TLS dial config, exchange/queue declare+bind, manual ack) but reshaped
// around Poll()/Ack() so a task loop drives delivery instead of the
// adapter running its own worker pool against an Appender.
package rabbitmq

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"chooser/internal/domain"
	"chooser/internal/logging"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"log/slog"
)

const system = "rabbitmq"

type Config struct {
	URL           string
	Endpoints     []string
	Exchange      string
	Queue         string
	RoutingKeys   []string
	ConsumerTag   string
	PrefetchCount int
	TLS           TLSConfig
	Auth          AuthConfig
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
	ServerName         string
	CAFile             string
	CertFile           string
	KeyFile            string
}

type AuthConfig struct {
	Username string
	Password string
}

func (c Config) endpoint() string {
	if strings.TrimSpace(c.URL) != "" {
		return strings.TrimSpace(c.URL)
	}
	for _, e := range c.Endpoints {
		if strings.TrimSpace(e) != "" {
			return strings.TrimSpace(e)
		}
	}
	return ""
}

func (c Config) Validate() error {
	if c.Queue == "" {
		return fmt.Errorf("rabbitmq.queue is required")
	}
	if c.Exchange == "" {
		return fmt.Errorf("rabbitmq.exchange is required")
	}
	if c.PrefetchCount < 1 {
		return fmt.Errorf("rabbitmq.prefetch_count must be >= 1")
	}
	if c.endpoint() == "" {
		return fmt.Errorf("rabbitmq.url or rabbitmq.endpoints is required")
	}
	return nil
}

// Driver is a Consumer backed by a single amqp091 channel consuming one
// queue into partition 0 of the "rabbitmq.<queue>" stream — RabbitMQ
// queues have no inherent partitioning, so the driver presents the whole
// queue as a single SSP.
type Driver struct {
	cfg    Config
	logger *slog.Logger

	conn     *amqp091.Connection
	ch       *amqp091.Channel
	deliver  <-chan amqp091.Delivery

	mu      sync.Mutex
	pending map[string]amqp091.Delivery
}

func NewDriver(cfg Config, logger *slog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "chooser-rabbitmq"
	}
	return &Driver{
		cfg:     cfg,
		logger:  logging.Component(logging.OrNop(logger), "ingest.rabbitmq"),
		pending: make(map[string]amqp091.Delivery),
	}, nil
}

// SSP is the single partition this driver serves, named after its queue.
func (d *Driver) SSP() domain.SystemStreamPartition {
	return domain.SystemStreamPartition{System: system, Stream: d.cfg.Queue, Partition: 0}
}

func (d *Driver) Register(ssp domain.SystemStreamPartition, startingOffset string) error {
	return nil
}

func (d *Driver) Start(ctx context.Context) error {
	dialCfg := amqp091.Config{}
	if d.cfg.Auth.Username != "" {
		dialCfg.SASL = []amqp091.Authentication{&amqp091.PlainAuth{Username: d.cfg.Auth.Username, Password: d.cfg.Auth.Password}}
	}
	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		dialCfg.TLSClientConfig = tlsCfg
	}

	conn, err := amqp091.DialConfig(d.cfg.endpoint(), dialCfg)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.Qos(d.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	if err := ch.ExchangeDeclare(d.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(d.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	routingKeys := d.cfg.RoutingKeys
	if len(routingKeys) == 0 {
		routingKeys = []string{"#"}
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(d.cfg.Queue, key, d.cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("bind queue key=%s: %w", key, err)
		}
	}
	deliveries, err := ch.ConsumeWithContext(ctx, d.cfg.Queue, d.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("consume queue: %w", err)
	}

	d.conn, d.ch, d.deliver = conn, ch, deliveries
	d.logger.Info("rabbitmq driver started", slog.String("queue", d.cfg.Queue), slog.String("exchange", d.cfg.Exchange))
	return nil
}

func (d *Driver) Stop() error {
	var errs []error
	if d.ch != nil {
		if err := d.ch.Cancel(d.cfg.ConsumerTag, false); err != nil {
			errs = append(errs, err)
		}
		if err := d.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll consumes one channel.Consume batch worth of deliveries. Each
// delivery's tag becomes its envelope's offset, and is held pending until
// Ack is called for it.
func (d *Driver) Poll(ctx context.Context) ([]domain.IncomingEnvelope, error) {
	if d.deliver == nil {
		return nil, errors.New("rabbitmq driver: Start must be called before Poll")
	}

	var envelopes []domain.IncomingEnvelope
	select {
	case dl, ok := <-d.deliver:
		if !ok {
			return nil, nil
		}
		envelopes = append(envelopes, d.toEnvelope(dl))
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// drain whatever else is immediately available without blocking further
	for {
		select {
		case dl, ok := <-d.deliver:
			if !ok {
				return envelopes, nil
			}
			envelopes = append(envelopes, d.toEnvelope(dl))
		default:
			return envelopes, nil
		}
	}
}

func (d *Driver) toEnvelope(dl amqp091.Delivery) domain.IncomingEnvelope {
	offset := strconv.FormatUint(dl.DeliveryTag, 10)
	d.mu.Lock()
	d.pending[offset] = dl
	d.mu.Unlock()
	return domain.IncomingEnvelope{
		SSP:     d.SSP(),
		Key:     []byte(dl.RoutingKey),
		Message: append([]byte(nil), dl.Body...),
		Offset:  offset,
	}
}

// Ack acknowledges the delivery tag recorded for offset and stops
// tracking it. Unknown offsets are a no-op, tolerating a caller acking an
// SSP it received from a different driver instance.
func (d *Driver) Ack(ssp domain.SystemStreamPartition, offset string) error {
	d.mu.Lock()
	dl, ok := d.pending[offset]
	if ok {
		delete(d.pending, offset)
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return dl.Ack(false)
}

func (d *Driver) buildTLSConfig() (*tls.Config, error) {
	if !d.cfg.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: d.cfg.TLS.InsecureSkipVerify, ServerName: d.cfg.TLS.ServerName}
	if d.cfg.TLS.CAFile != "" {
		pemBytes, err := os.ReadFile(d.cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read rabbitmq ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("parse rabbitmq ca_file")
		}
		tlsCfg.RootCAs = pool
	}
	if d.cfg.TLS.CertFile != "" || d.cfg.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(d.cfg.TLS.CertFile, d.cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load rabbitmq cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
