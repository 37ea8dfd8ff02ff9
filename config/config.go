package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Cameras    []CameraConfig   `mapstructure:"cameras" validate:"dive"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Gallery    GalleryConfig    `mapstructure:"gallery"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host              string  `mapstructure:"host"`
	Port              int     `mapstructure:"port" validate:"gte=1,lte=65535"`
	DataDir           string  `mapstructure:"data_dir"`
	SnapshotURL       string  `mapstructure:"snapshot_url"`
	Timezone          string  `mapstructure:"timezone"`
	ScanRatePerSecond float64 `mapstructure:"scan_rate_per_second" validate:"gte=0"`
	ScanBurst         int     `mapstructure:"scan_burst" validate:"gte=0"`
	Workers           int     `mapstructure:"workers" validate:"gte=0"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	Format     string `mapstructure:"format" validate:"oneof=text nested json"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"`
}

// AWSConfig enthält Zugangsdaten und Ressourcen für Rekognition und S3
type AWSConfig struct {
	Region          string `mapstructure:"region" validate:"required"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" validate:"required_with=AccessKeyID"`
	CollectionID    string `mapstructure:"collection_id"`
	S3Bucket        string `mapstructure:"s3_bucket"`
	S3Prefix        string `mapstructure:"s3_prefix"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds" validate:"gte=1,lte=300"`
}

// ProcessingConfig ist der Optionssatz der Bildverarbeitung
type ProcessingConfig struct {
	ROIXMin float64 `mapstructure:"roi_x_min" validate:"gte=0,lte=1"`
	ROIYMin float64 `mapstructure:"roi_y_min" validate:"gte=0,lte=1"`
	ROIXMax float64 `mapstructure:"roi_x_max" validate:"gte=0,lte=1,gtfield=ROIXMin"`
	ROIYMax float64 `mapstructure:"roi_y_max" validate:"gte=0,lte=1,gtfield=ROIYMin"`
	Scale   float64 `mapstructure:"scale" validate:"gte=0.1,lte=1"`

	SaveFileFolder       string `mapstructure:"save_file_folder" validate:"required"`
	SaveFileFormat       string `mapstructure:"save_file_format" validate:"oneof=jpg png"`
	SaveTimestampedFile  bool   `mapstructure:"save_timestamped_file"`
	AlwaysSaveLatestFile bool   `mapstructure:"always_save_latest_file"`
	MaxSavedFiles        int    `mapstructure:"max_saved_files" validate:"gte=1,lte=500"`

	ShowBoxes      bool    `mapstructure:"show_boxes"`
	LabelFontLevel int     `mapstructure:"label_font_level" validate:"gte=1,lte=20"`
	MaxRedBoxes    int     `mapstructure:"max_red_boxes" validate:"gte=0,lte=50"`
	MinRedBoxArea  float64 `mapstructure:"min_red_box_area" validate:"gte=0,lte=1"`

	ExcludedObjectLabels []string           `mapstructure:"excluded_object_labels"`
	ExcludeTargets       []string           `mapstructure:"exclude_targets"`
	DefaultMinConfidence float64            `mapstructure:"default_min_confidence" validate:"gte=0,lte=100"`
	TargetsConfidence    map[string]float64 `mapstructure:"targets_confidence" validate:"dive,gte=0,lte=100"`
	AWSAPICost           float64            `mapstructure:"aws_api_cost" validate:"gte=0,lte=1"`
}

// CameraConfig beschreibt eine Kamera als Bildquelle
type CameraConfig struct {
	Name            string `mapstructure:"name" validate:"required"`
	SnapshotURL     string `mapstructure:"snapshot_url" validate:"omitempty,url"`
	IntervalSeconds int    `mapstructure:"interval_seconds" validate:"gte=0"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker" validate:"required_if=Enabled true"`
	Port          int                 `mapstructure:"port"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	Topic         string              `mapstructure:"topic"`
	BaseTopic     string              `mapstructure:"base_topic"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig enthält die Konfiguration für die Home Assistant Integration
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// GalleryConfig steuert den Abgleich mit der Collection
type GalleryConfig struct {
	SyncIntervalMinutes int `mapstructure:"sync_interval_minutes" validate:"gte=0"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes" validate:"gte=0"`
}

// DefaultExcludedObjectLabels sind Synonyme für Personen, die nicht als Objekte gezählt werden
var DefaultExcludedObjectLabels = []string{"person", "people", "human", "adult", "child", "man", "woman", "boy", "girl", "male", "female"}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Standardwerte festlegen
	setDefaults(v)

	// Konfigurationsdatei laden, wenn vorhanden
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.SetEnvPrefix("AFR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Processing.Normalize()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	// Sicherstellen, dass erforderliche Verzeichnisse existieren
	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Validate prüft Wertebereiche und Pflichtfelder
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Normalize vereinheitlicht Label-Listen (klein, ohne Leerzeichen, ohne Duplikate)
func (p *ProcessingConfig) Normalize() {
	p.ExcludedObjectLabels = normalizeLabels(p.ExcludedObjectLabels)
	p.ExcludeTargets = normalizeLabels(p.ExcludeTargets)
	p.SaveFileFormat = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p.SaveFileFormat), "."))
	if p.SaveFileFormat == "jpeg" {
		p.SaveFileFormat = "jpg"
	}
	if len(p.TargetsConfidence) > 0 {
		normalized := make(map[string]float64, len(p.TargetsConfidence))
		for k, v := range p.TargetsConfidence {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				normalized[k] = v
			}
		}
		p.TargetsConfidence = normalized
	}
}

func normalizeLabels(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// DefaultProcessing liefert die Standardoptionen der Bildverarbeitung
func DefaultProcessing() ProcessingConfig {
	return ProcessingConfig{
		ROIXMin:              0,
		ROIYMin:              0,
		ROIXMax:              1,
		ROIYMax:              1,
		Scale:                1,
		SaveFileFolder:       "/data/snapshots",
		SaveFileFormat:       "jpg",
		SaveTimestampedFile:  true,
		AlwaysSaveLatestFile: true,
		MaxSavedFiles:        10,
		ShowBoxes:            true,
		LabelFontLevel:       6,
		MaxRedBoxes:          6,
		MinRedBoxArea:        0.03,
		ExcludedObjectLabels: append([]string(nil), DefaultExcludedObjectLabels...),
		ExcludeTargets:       []string{},
		DefaultMinConfidence: 10,
		TargetsConfidence:    map[string]float64{},
		AWSAPICost:           0.001,
	}
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	// Server-Standardwerte
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.snapshot_url", "/snapshots")
	v.SetDefault("server.timezone", "UTC")
	v.SetDefault("server.scan_rate_per_second", 2.0)
	v.SetDefault("server.scan_burst", 4)
	v.SetDefault("server.workers", 0)

	// Log-Standardwerte
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/aws-face-recognition.log")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	// DB-Standardwerte
	v.SetDefault("db.file", "/data/aws-face-recognition.db")

	// AWS-Standardwerte
	v.SetDefault("aws.region", "eu-west-1")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.collection_id", "")
	v.SetDefault("aws.s3_bucket", "")
	v.SetDefault("aws.s3_prefix", "")
	v.SetDefault("aws.timeout_seconds", 15)

	// Verarbeitungs-Standardwerte
	p := DefaultProcessing()
	v.SetDefault("processing.roi_x_min", p.ROIXMin)
	v.SetDefault("processing.roi_y_min", p.ROIYMin)
	v.SetDefault("processing.roi_x_max", p.ROIXMax)
	v.SetDefault("processing.roi_y_max", p.ROIYMax)
	v.SetDefault("processing.scale", p.Scale)
	v.SetDefault("processing.save_file_folder", p.SaveFileFolder)
	v.SetDefault("processing.save_file_format", p.SaveFileFormat)
	v.SetDefault("processing.save_timestamped_file", p.SaveTimestampedFile)
	v.SetDefault("processing.always_save_latest_file", p.AlwaysSaveLatestFile)
	v.SetDefault("processing.max_saved_files", p.MaxSavedFiles)
	v.SetDefault("processing.show_boxes", p.ShowBoxes)
	v.SetDefault("processing.label_font_level", p.LabelFontLevel)
	v.SetDefault("processing.max_red_boxes", p.MaxRedBoxes)
	v.SetDefault("processing.min_red_box_area", p.MinRedBoxArea)
	v.SetDefault("processing.excluded_object_labels", p.ExcludedObjectLabels)
	v.SetDefault("processing.exclude_targets", p.ExcludeTargets)
	v.SetDefault("processing.default_min_confidence", p.DefaultMinConfidence)
	v.SetDefault("processing.targets_confidence", p.TargetsConfidence)
	v.SetDefault("processing.aws_api_cost", p.AWSAPICost)

	// MQTT-Standardwerte
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "aws-face-recognition")
	v.SetDefault("mqtt.topic", "aws-face-recognition/scan")
	v.SetDefault("mqtt.base_topic", "aws-face-recognition")
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")

	// Galerie und Bereinigung
	v.SetDefault("gallery.sync_interval_minutes", 60)
	v.SetDefault("cleanup.interval_minutes", 60)
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// Snapshot-Verzeichnis
	if err := os.MkdirAll(cfg.Processing.SaveFileFolder, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// Log-Verzeichnis
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	// Datenbank-Verzeichnis (für SQLite)
	if cfg.DB.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	return nil
}
