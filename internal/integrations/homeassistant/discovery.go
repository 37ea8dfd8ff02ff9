package homeassistant

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Konstanten für Home Assistant MQTT Discovery
const (
	// DefaultDiscoveryPrefix ist das Standard-Präfix von Home Assistant
	DefaultDiscoveryPrefix = "homeassistant"

	// Component-Typ für Sensoren
	ComponentSensor = "sensor"

	// NodeID des Dienstes in Discovery-Topics
	NodeID = "aws_face_recognition"
)

// Schlüssel der Sensoren
const (
	SensorStatus              = "status"
	SensorLastRecognized      = "last_recognized"
	SensorPersonsInCollection = "persons_in_collection"
	SensorAWSCallsMonth       = "aws_calls_month"
)

// MessagePublisher ist der Teil des MQTT-Clients, den die Sensoren brauchen
type MessagePublisher interface {
	Publish(topic string, payload any) error
	PublishRetain(topic string, payload any) error
}

// SensorConfig repräsentiert die MQTT-Discovery-Konfiguration für einen Sensor in Home Assistant
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	StateClass          string  `json:"state_class,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device repräsentiert die Geräteinformationen für Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type sensorDescription struct {
	key, name, icon, stateClass string
}

var sensors = []sensorDescription{
	{key: SensorStatus, name: "Status", icon: "mdi:face-recognition"},
	{key: SensorLastRecognized, name: "Last Recognized", icon: "mdi:account"},
	{key: SensorPersonsInCollection, name: "Persons In Collection", icon: "mdi:account-multiple", stateClass: "measurement"},
	{key: SensorAWSCallsMonth, name: "AWS Calls This Month", icon: "mdi:cloud-outline", stateClass: "total_increasing"},
}

// Topics beschreibt die Topics eines Dienstes unter einem Basistopic
type Topics struct {
	Base         string
	Availability string
}

// StateTopic liefert das Zustands-Topic eines Sensors
func (t Topics) StateTopic(key string) string {
	return fmt.Sprintf("%s/%s/state", t.Base, key)
}

// AttributesTopic liefert das Attribut-Topic eines Sensors
func (t Topics) AttributesTopic(key string) string {
	return fmt.Sprintf("%s/%s/attributes", t.Base, key)
}

// DiscoveryManager verwaltet die Home Assistant MQTT Discovery
type DiscoveryManager struct {
	client MessagePublisher
	prefix string
	topics Topics
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(client MessagePublisher, prefix string, topics Topics) *DiscoveryManager {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return &DiscoveryManager{client: client, prefix: prefix, topics: topics}
}

// ConfigTopic liefert das Discovery-Topic eines Sensors
func (dm *DiscoveryManager) ConfigTopic(key string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", dm.prefix, ComponentSensor, NodeID, key)
}

// RegisterSensors veröffentlicht die Discovery-Konfiguration aller Sensoren
func (dm *DiscoveryManager) RegisterSensors() error {
	device := &Device{
		Identifiers:  []string{NodeID},
		Name:         "AWS Face Recognition",
		Manufacturer: "Amazon Rekognition",
		Model:        "Face Recognition",
	}

	var firstErr error
	for _, s := range sensors {
		cfg := SensorConfig{
			Name:                s.name,
			UniqueID:            fmt.Sprintf("%s_%s", NodeID, s.key),
			StateTopic:          dm.topics.StateTopic(s.key),
			JSONAttributesTopic: dm.topics.AttributesTopic(s.key),
			Icon:                s.icon,
			AvailabilityTopic:   dm.topics.Availability,
			PayloadAvailable:    "online",
			PayloadNotAvailable: "offline",
			StateClass:          s.stateClass,
			Device:              device,
		}
		if err := dm.client.PublishRetain(dm.ConfigTopic(s.key), cfg); err != nil {
			log.Errorf("Failed to register sensor %s: %v", s.key, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to publish discovery configuration: %w", err)
			}
			continue
		}
		log.Debugf("Registered Home Assistant sensor %s", s.key)
	}
	return firstErr
}
