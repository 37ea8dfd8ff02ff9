package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewClientFunc erzeugt den Paho-Client; in Tests austauschbar
var NewClientFunc = paho.NewClient

// ErrNotConnected wird beim Veröffentlichen ohne Verbindung geliefert
var ErrNotConnected = errors.New("mqtt client is not connected")

const (
	publishTimeout = 5 * time.Second
	// Verfügbarkeitswerte des Dienstes
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// MessageHandler verarbeitet MQTT-Nachrichten eines abonnierten Topics
type MessageHandler interface {
	HandleMessage(topic string, payload []byte)
}

// HandlerFunc erlaubt Funktionen als MessageHandler
type HandlerFunc func(topic string, payload []byte)

func (f HandlerFunc) HandleMessage(topic string, payload []byte) { f(topic, payload) }

// Client ist der MQTT-Client für Scan-Auslöser und Home-Assistant-Sensoren
type Client struct {
	config config.MQTTConfig
	client paho.Client

	mu       sync.RWMutex
	handlers map[string][]MessageHandler
}

// NewClient erstellt einen neuen MQTT-Client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{
		config:   cfg,
		handlers: make(map[string][]MessageHandler),
	}
}

// AvailabilityTopic liefert das Topic für den Online-Status
func (c *Client) AvailabilityTopic() string {
	return strings.TrimSuffix(c.config.BaseTopic, "/") + "/status"
}

// BaseTopic liefert das Basistopic des Dienstes
func (c *Client) BaseTopic() string {
	return strings.TrimSuffix(c.config.BaseTopic, "/")
}

// Subscribe registriert einen Handler für ein Topic. Abonnements werden bei jeder
// (Wieder-)Verbindung erneuert.
func (c *Client) Subscribe(topic string, handler MessageHandler) {
	if topic == "" {
		return
	}
	c.mu.Lock()
	c.handlers[topic] = append(c.handlers[topic], handler)
	c.mu.Unlock()
	log.Debugf("Registered MQTT handler for %s", topic)

	if c.IsConnected() {
		c.subscribe(c.client, topic)
	}
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.SetWill(c.AvailabilityTopic(), PayloadOffline, 1, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)

	c.client = NewClientFunc(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker: %w", token.Error())
	}
	return nil
}

// Stop meldet den Dienst offline und trennt die Verbindung
func (c *Client) Stop() {
	if !c.IsConnected() {
		return
	}
	if err := c.PublishRetain(c.AvailabilityTopic(), PayloadOffline); err != nil {
		log.WithError(err).Debug("Failed to publish offline status")
	}
	c.client.Disconnect(250)
	log.Info("MQTT client disconnected")
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) onConnect(client paho.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	c.mu.RLock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	for _, topic := range topics {
		c.subscribe(client, topic)
	}

	token := client.Publish(c.AvailabilityTopic(), 1, true, PayloadOnline)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		log.WithError(token.Error()).Warn("Failed to publish online status")
	}
}

func (c *Client) subscribe(client paho.Client, topic string) {
	token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		c.dispatch(msg.Topic(), msg.Payload())
	})
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		log.Errorf("Failed to subscribe to topic %s: %v", topic, token.Error())
		return
	}
	log.Infof("Subscribed to MQTT topic: %s", topic)
}

// dispatch leitet eine Nachricht an alle Handler des Topics weiter
func (c *Client) dispatch(topic string, payload []byte) {
	log.Debugf("Received MQTT message on topic: %s", topic)

	c.mu.RLock()
	handlers := append([]MessageHandler(nil), c.handlers[topic]...)
	c.mu.RUnlock()

	for _, handler := range handlers {
		go handler.HandleMessage(topic, payload)
	}
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload any, retain bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload any) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload any) error {
	return c.PublishMessage(topic, payload, false)
}

// EncodePayload wandelt Werte in MQTT-Nutzdaten um; Strukturen werden als JSON kodiert
func EncodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return data, nil
	}
}
