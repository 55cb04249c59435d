package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nijaru/yt-script/errors"
	"github.com/nijaru/yt-script/models"
	"github.com/sirupsen/logrus"
)

const DefaultSubjectPrefix = "yt-script.progress"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher forwards progress events to NATS, one subject per run.
type NATSPublisher struct {
	conn   Conn
	prefix string
}

func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

func (p *NATSPublisher) Subject(runID string) string {
	return fmt.Sprintf("%s.%s", p.prefix, runID)
}

func (p *NATSPublisher) Publish(ctx context.Context, event models.ProgressEvent) error {
	const op = "NATSPublisher.Publish"

	if event.RunID == "" {
		return errors.InvalidInput(op, nil, "run id is required")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Internal(op, err, "failed to marshal progress")
	}
	if err := p.conn.Publish(p.Subject(event.RunID), data); err != nil {
		return errors.Internal(op, err, "failed to publish progress")
	}
	return nil
}

// Connect dials NATS and keeps reconnecting for the life of the process.
func Connect(url string) (*nats.Conn, error) {
	const op = "messaging.Connect"

	logger := logrus.WithField("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("yt-script"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to connect to NATS")
	}

	logger.WithField("url", url).Info("NATS connected")
	return nc, nil
}
