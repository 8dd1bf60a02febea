// Package control is the operator-facing side of the control channel:
// operators publish addExclusion/removeExclusion/cancel/pause/resume/
// stop-gracefully commands over NATS, and this package turns them into
// store.ControlMessage values the running crawl's ProcessMessage drains.
// Connection setup, reconnect/disconnect handlers, and Publish/Subscribe
// follow the usual NatsClient shape; JetStream isn't needed here, since
// control commands don't need replay or durability beyond CrawlStore's own
// pending-message list.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/lexicondev/browsercrawl-core/internal/config"
	"github.com/lexicondev/browsercrawl-core/internal/store"
)

// Client wraps one NATS connection scoped to a single crawl's control
// subject.
type Client struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

func subjectFor(crawlID string) string { return "crawlcore.control." + crawlID }

// Connect dials NATS the way NewNatsClient does: reconnect/disconnect/
// error handlers logged via zerolog instead of a package-level logger.
func Connect(cfg config.NatsConfig, crawlID string, log zerolog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected from nats")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("server", nc.ConnectedUrl()).Msg("reconnected to nats")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info().Msg("nats connection closed")
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("control: connecting to nats: %w", err)
	}
	return &Client{conn: conn, subject: subjectFor(crawlID), log: log}, nil
}

func (c *Client) Close() error {
	return c.conn.Drain()
}

// wireMessage is the JSON envelope published on the control subject.
type wireMessage struct {
	Command string `json:"command"`
	Pattern string `json:"pattern,omitempty"`
}

// Send publishes one operator command. This is what an admin CLI or
// internal/adminapi's /control/{cmd} handler calls.
func (c *Client) Send(cmd, pattern string) error {
	payload, err := json.Marshal(wireMessage{Command: cmd, Pattern: pattern})
	if err != nil {
		return fmt.Errorf("control: marshal: %w", err)
	}
	if err := c.conn.Publish(c.subject, payload); err != nil {
		return fmt.Errorf("control: publish: %w", err)
	}
	return nil
}

// Bridge subscribes to the control subject and forwards every command
// into st.PublishControl, so the running crawl's own ProcessMessage poll
// (already reading from CrawlStore) picks them up without knowing NATS
// exists. This lets memstore-backed tests exercise the exact same
// ProcessMessage path a NATS-driven production crawl uses.
func (c *Client) Bridge(st store.CrawlStore) (unsubscribe func() error, err error) {
	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		var wm wireMessage
		if err := json.Unmarshal(msg.Data, &wm); err != nil {
			c.log.Warn().Err(err).Msg("control: malformed message, dropping")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.PublishControl(ctx, store.ControlMessage{Command: wm.Command, Pattern: wm.Pattern}); err != nil {
			c.log.Warn().Err(err).Str("command", wm.Command).Msg("control: forwarding to store failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("control: subscribing: %w", err)
	}
	return sub.Unsubscribe, nil
}
