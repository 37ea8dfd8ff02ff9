package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite Treiber
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"aws-face-recognition-go/internal/core/models"
)

// Open öffnet die SQLite-Datenbank und führt die Migrationen aus
func Open(file string) (*gorm.DB, error) {
	// Sicherstellen, dass das Verzeichnis für die Datenbankdatei existiert
	if file != "" && file != ":memory:" {
		dbDir := filepath.Dir(file)
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	log.Infof("Connecting to database: %s", file)
	conn, err := gorm.Open(sqlite.Open(file), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	// SQLite verträgt nur einen Schreiber
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := conn.AutoMigrate(&models.KVEntry{}); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	log.Debug("Database migrations completed successfully")
	return conn, nil
}

// Close schließt die zugrunde liegende Verbindung
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
