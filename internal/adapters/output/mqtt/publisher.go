package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crestron-home-bridge/internal/domain/entity"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTopicPrefix = "crestron_home"
	publishTimeout     = 5 * time.Second
)

type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// broker is the part of paho.Client the publisher uses.
type broker interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type statePayload struct {
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Publisher mirrors entity state to retained MQTT topics.
type Publisher struct {
	client broker
	prefix string
	qos    byte
	log    logrus.FieldLogger
}

// NewPublisher connects to the configured broker. The bridge status topic
// is set as last will so consumers see the bridge go offline.
func NewPublisher(cfg Config, log logrus.FieldLogger) (*Publisher, error) {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "crestron-home-bridge"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetWill(statusTopic(prefix), "offline", cfg.QoS, true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Info("Connected to MQTT broker")
		c.Publish(statusTopic(prefix), cfg.QoS, true, "online")
	})

	client := paho.NewClient(opts)
	log.Infof("Connecting to MQTT broker %s...", cfg.Broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return newPublisher(client, prefix, cfg.QoS, log), nil
}

func newPublisher(client broker, prefix string, qos byte, log logrus.FieldLogger) *Publisher {
	return &Publisher{client: client, prefix: prefix, qos: qos, log: log}
}

func statusTopic(prefix string) string {
	return prefix + "/bridge/status"
}

func (p *Publisher) StateTopic(entryID string, e entity.Entity) string {
	return fmt.Sprintf("%s/%s/%s/%s/state", p.prefix, entryID, e.Platform(), e.UniqueID())
}

func (p *Publisher) AvailabilityTopic(entryID string, e entity.Entity) string {
	return fmt.Sprintf("%s/%s/%s/%s/availability", p.prefix, entryID, e.Platform(), e.UniqueID())
}

// Publish sends retained state and availability for every entity. Errors
// are collected so one failed topic does not block the rest.
func (p *Publisher) Publish(entryID string, entities []entity.Entity) error {
	var errs []error
	for _, e := range entities {
		payload, err := json.Marshal(statePayload{Name: e.Name(), State: e.State(), Attributes: e.Attributes()})
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", e.UniqueID(), err))
			continue
		}
		if err := p.send(p.StateTopic(entryID, e), payload); err != nil {
			errs = append(errs, err)
		}
		availability := "offline"
		if e.Available() {
			availability = "online"
		}
		if err := p.send(p.AvailabilityTopic(entryID, e), availability); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	p.log.Debugf("Published state of %d entities", len(entities))
	return nil
}

func (p *Publisher) send(topic string, payload any) error {
	token := p.client.Publish(topic, p.qos, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if err := p.send(statusTopic(p.prefix), "offline"); err != nil {
		p.log.Warnf("Failed to publish bridge status: %v", err)
	}
	p.client.Disconnect(250)
}
