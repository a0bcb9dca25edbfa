// Package nats implements a NATS integration.
package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"text/template"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"

	"github.com/loraedge/edge-network-server/internal/integration"
	"github.com/loraedge/edge-network-server/internal/logging"
)

// Config holds the NATS integration configuration.
type Config struct {
	URL             string
	SubjectTemplate string
}

// publisher is the subset of *nats.Conn used by the integration.
type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Integration implements a NATS integration.
type Integration struct {
	conn            publisher
	subjectTemplate *template.Template
}

// New creates a new NATS integration.
func New(c Config) (*Integration, error) {
	log.WithField("url", c.URL).Info("integration/nats: connecting to nats server")
	nc, err := nats.Connect(c.URL,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Error("integration/nats: disconnected from nats server")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("integration/nats: reconnected to nats server")
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "integration/nats: connect error")
	}

	return newIntegration(nc, c.SubjectTemplate)
}

func newIntegration(conn publisher, subjectTemplate string) (*Integration, error) {
	t, err := template.New("subject").Parse(subjectTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "integration/nats: parse subject template error")
	}

	return &Integration{
		conn:            conn,
		subjectTemplate: t,
	}, nil
}

// SendUplinkEvent publishes the uplink event.
func (i *Integration) SendUplinkEvent(ctx context.Context, pl integration.UplinkEvent) error {
	return i.publish(ctx, pl.DevEUI, integration.EventUp, pl)
}

// SendJoinEvent publishes the join event.
func (i *Integration) SendJoinEvent(ctx context.Context, pl integration.JoinEvent) error {
	return i.publish(ctx, pl.DevEUI, integration.EventJoin, pl)
}

// Close drains the connection.
func (i *Integration) Close() error {
	log.Info("integration/nats: closing integration")
	return i.conn.Drain()
}

func (i *Integration) publish(ctx context.Context, devEUI lorawan.EUI64, eventType string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal json error")
	}

	subject := bytes.NewBuffer(nil)
	if err := i.subjectTemplate.Execute(subject, struct {
		DevEUI    lorawan.EUI64
		EventType string
	}{devEUI, eventType}); err != nil {
		return errors.Wrap(err, "execute subject template error")
	}

	log.WithFields(log.Fields{
		"subject": subject.String(),
		"ctx_id":  ctx.Value(logging.ContextIDKey),
	}).Info("integration/nats: publishing event")

	if err := i.conn.Publish(subject.String(), b); err != nil {
		return errors.Wrap(err, "integration/nats: publish event error")
	}
	return nil
}
