package record

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiliankoe/storyduel/internal/game"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher is the subset of *nats.Conn used to publish records.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes every finished round as JSON on a subject.
type NATS struct {
	pub     Publisher
	subject string
	conn    *nats.Conn
}

func NewNATS(pub Publisher, subject string) *NATS {
	return &NATS{pub: pub, subject: subject}
}

// DialNATS connects to url and returns a recorder owning the connection.
func DialNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("storyduel"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	n := NewNATS(nc, subject)
	n.conn = nc
	return n, nil
}

func (n *NATS) Record(_ context.Context, rec game.RoundRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := n.pub.Publish(n.subject, b); err != nil {
		return fmt.Errorf("failed to publish round: %w", err)
	}
	return nil
}

// Close drains the connection when the recorder owns one.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
