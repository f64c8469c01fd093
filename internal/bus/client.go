package bus

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subject is the single cluster-wide subject all shard processes share.
const Subject = "shardd.cluster"

// Client is the process's connection to the message bus. Publishes are
// fire-and-forget; a single inbound handler receives every envelope on
// the cluster subject, including this process's own (guild and trade
// delivery depend on hearing our own traffic in bus order).
type Client struct {
	conn   *nats.Conn
	origin string
	logger *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// Connect dials the bus.
//
// Precondition: url is a reachable NATS endpoint; origin is this
// process's cluster-unique server name.
func Connect(url, origin string, logger *zap.Logger) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(origin),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to bus at %s: %w", url, err)
	}
	logger.Info("connected to message bus",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("origin", origin),
	)
	return &Client{conn: conn, origin: origin, logger: logger}, nil
}

// Publish writes one envelope to the cluster subject. Fire-and-forget:
// delivery is at-least-once with no cross-sender ordering.
func (c *Client) Publish(e *Envelope) error {
	raw, err := e.Encode()
	if err != nil {
		return err
	}
	if err := c.conn.Publish(Subject, raw); err != nil {
		return fmt.Errorf("publishing %s: %w", e.Kind, err)
	}
	return nil
}

// OnMessage registers the single inbound handler. Payloads that do not
// decode as envelopes are dropped.
//
// Precondition: Called at most once per client.
func (c *Client) OnMessage(handler func(*Envelope)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return fmt.Errorf("inbound handler already registered")
	}

	sub, err := c.conn.Subscribe(Subject, func(msg *nats.Msg) {
		env, err := DecodeEnvelope(msg.Data)
		if err != nil {
			c.logger.Debug("dropping malformed bus payload", zap.Error(err))
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", Subject, err)
	}
	c.sub = sub
	return nil
}

// Close drains the subscription and closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("unsubscribing from bus", zap.Error(err))
		}
	}
	c.conn.Close()
}
