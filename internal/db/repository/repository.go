package repository

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"aws-face-recognition-go/internal/core/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Schlüssel der persistierten Zustände
const (
	KeyUsage   = "usage"
	KeyGallery = "gallery"
)

// Repository definiert die Schnittstelle für den Schlüssel-Wert-Speicher
type Repository interface {
	// Get lädt den Wert in out; found ist false, wenn der Schlüssel fehlt
	Get(key string, out any) (found bool, err error)
	// Put speichert v als JSON unter key
	Put(key string, v any) error
	Delete(key string) error
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Get(key string, out any) (bool, error) {
	var entry models.KVEntry
	result := r.db.Where(&models.KVEntry{Key: key}).First(&entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, result.Error
	}
	if err := json.Unmarshal(entry.Value, out); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (r *SQLiteRepository) Put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	entry := models.KVEntry{Key: key, Value: datatypes.JSON(data), UpdatedAt: r.now().UTC()}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
}

func (r *SQLiteRepository) Delete(key string) error {
	return r.db.Where(&models.KVEntry{Key: key}).Delete(&models.KVEntry{}).Error
}
