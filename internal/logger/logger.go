package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"aws-face-recognition-go/config"
)

// Init initialisiert den globalen Logger anhand der Konfiguration
func Init(cfg config.LogConfig) error {
	// Log-Level setzen
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(Formatter(cfg.Format))

	// Ausgabe: immer stdout, zusätzlich rotierende Datei
	writers := []io.Writer{os.Stdout}
	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			log.Errorf("Failed to create log directory '%s': %v", logDir, err)
		} else {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    positive(cfg.MaxSizeMB, 10),
				MaxBackups: positive(cfg.MaxBackups, 3),
				MaxAge:     positive(cfg.MaxAgeDays, 14),
				Compress:   true,
			})
			log.Infof("Logging additionally to file: %s", cfg.File)
		}
	}
	log.SetOutput(io.MultiWriter(writers...))

	log.WithFields(log.Fields{
		"level":  level.String(),
		"format": cfg.Format,
	}).Info("Logger initialized")
	return nil
}

// Formatter liefert den Formatter für das konfigurierte Format
func Formatter(format string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return &log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	case "nested":
		return &nested.Formatter{
			TimestampFormat: "2006-01-02 15:04:05",
			HideKeys:        false,
			NoColors:        true,
			FieldsOrder:     []string{"camera", "component", "op"},
		}
	default:
		return &log.TextFormatter{FullTimestamp: true}
	}
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
