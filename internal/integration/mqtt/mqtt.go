// Package mqtt implements a MQTT integration.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"text/template"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lorawan"

	"github.com/loraedge/edge-network-server/internal/integration"
	"github.com/loraedge/edge-network-server/internal/logging"
)

const publishTimeout = 5 * time.Second

// Config holds the MQTT integration configuration.
type Config struct {
	Server        string
	Username      string
	Password      string
	QOS           uint8
	CleanSession  bool
	ClientID      string
	TopicTemplate string
}

// publisher is the subset of paho.Client used by the integration.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Integration implements a MQTT integration.
type Integration struct {
	conn          publisher
	qos           uint8
	topicTemplate *template.Template
}

// New creates a new MQTT integration and connects to the broker.
func New(c Config) (*Integration, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.Server)
	opts.SetUsername(c.Username)
	opts.SetPassword(c.Password)
	opts.SetCleanSession(c.CleanSession)
	opts.SetClientID(c.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(paho.Client) {
		log.Info("integration/mqtt: connected to mqtt broker")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.WithError(err).Error("integration/mqtt: mqtt connection error")
	})

	log.WithField("server", c.Server).Info("integration/mqtt: connecting to mqtt broker")
	conn := paho.NewClient(opts)
	if token := conn.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "integration/mqtt: connect to mqtt broker error")
	}

	return newIntegration(conn, c.QOS, c.TopicTemplate)
}

func newIntegration(conn publisher, qos uint8, topicTemplate string) (*Integration, error) {
	t, err := template.New("topic").Parse(topicTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "integration/mqtt: parse topic template error")
	}

	return &Integration{
		conn:          conn,
		qos:           qos,
		topicTemplate: t,
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

// Close disconnects from the broker.
func (i *Integration) Close() error {
	log.Info("integration/mqtt: closing integration")
	i.conn.Disconnect(250)
	return nil
}

func (i *Integration) publish(ctx context.Context, devEUI lorawan.EUI64, eventType string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal json error")
	}

	topic := bytes.NewBuffer(nil)
	if err := i.topicTemplate.Execute(topic, struct {
		DevEUI    lorawan.EUI64
		EventType string
	}{devEUI, eventType}); err != nil {
		return errors.Wrap(err, "execute topic template error")
	}

	log.WithFields(log.Fields{
		"topic":  topic.String(),
		"qos":    i.qos,
		"ctx_id": ctx.Value(logging.ContextIDKey),
	}).Info("integration/mqtt: publishing event")

	token := i.conn.Publish(topic.String(), i.qos, false, b)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("integration/mqtt: publish timeout")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "integration/mqtt: publish event error")
	}

	return nil
}
