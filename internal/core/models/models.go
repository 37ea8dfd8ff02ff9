package models

import (
	"time"

	"gorm.io/datatypes"

	"aws-face-recognition-go/internal/core/geometry"
)

// UnknownName ist der Name eines Gesichts ohne Treffer in der Galerie
const UnknownName = "Unknown"

// DetectedObject ist eine einzelne Label-Instanz aus der Objekterkennung eines Frames
type DetectedObject struct {
	Name        string               `json:"name"`
	Confidence  float64              `json:"confidence"`
	BoundingBox geometry.BoundingBox `json:"bounding_box"`
	Centroid    geometry.Point       `json:"centroid"`
}

// SceneLabel ist ein Label ohne eigene Box (Szenenbeschreibung)
type SceneLabel struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// DetectedFace ist ein erkanntes Gesicht; Name und Confidence werden nach der Suche gesetzt
type DetectedFace struct {
	BoundingBox geometry.BoundingBox `json:"bounding_box"`
	Name        string               `json:"name"`
	Confidence  float64              `json:"confidence"`
}

// Identified prüft, ob das Gesicht einer bekannten Person zugeordnet wurde
func (f DetectedFace) Identified() bool {
	return f.Name != "" && f.Name != UnknownName
}

// PersonAssociation verknüpft eine erkannte Person mit dem besten Gesicht innerhalb ihrer Box
type PersonAssociation struct {
	BoundingBox       geometry.BoundingBox `json:"bounding_box"`
	PersonConfidence  float64              `json:"person_confidence"`
	MatchedName       *string              `json:"matched_name"`
	MatchedSimilarity *float64             `json:"matched_similarity"`
}

// RecognitionIndexEntry ist ein gespeichertes Erkennungsereignis
type RecognitionIndexEntry struct {
	File               string         `json:"file"`
	Timestamp          string         `json:"timestamp"`
	Recognized         []string       `json:"recognized"`
	UnknownPersonFound bool           `json:"unknown_person_found"`
	Objects            map[string]int `json:"objects"`
}

// RecognitionIndex ist der Inhalt der Datei recognition_index.json (neueste Einträge zuerst)
type RecognitionIndex struct {
	UpdatedAt string                  `json:"updated_at"`
	Items     []RecognitionIndexEntry `json:"items"`
}

// LastResult fasst das Ergebnis des zuletzt verarbeiteten Frames zusammen
type LastResult struct {
	ID                 string         `json:"id,omitempty"`
	Timestamp          string         `json:"timestamp,omitempty"`
	Recognized         []string       `json:"recognized"`
	UnknownPersonFound bool           `json:"unknown_person_found"`
	Alert              bool           `json:"alert"`
	File               string         `json:"file,omitempty"`
	ImageURL           string         `json:"image_url,omitempty"`
	LatestURL          string         `json:"latest_url,omitempty"`
	Objects            map[string]int `json:"objects"`
	CameraEntity       string         `json:"camera_entity,omitempty"`
	FontLevel          int            `json:"font_level,omitempty"`
	FontScale          float64        `json:"font_scale,omitempty"`
}

// IsEmpty prüft, ob noch kein Ergebnis vorliegt
func (r LastResult) IsEmpty() bool {
	return r.Timestamp == "" && r.File == "" && len(r.Recognized) == 0
}

// UsageCounters zählt Scans und API-Aufrufe pro Monat
type UsageCounters struct {
	Month             string `json:"month,omitempty"`
	ScansMonth        int    `json:"scans_month"`
	AWSCallsMonth     int    `json:"aws_calls_month"`
	LastMonthScans    int    `json:"last_month_scans"`
	LastMonthAPICalls int    `json:"last_month_api_calls"`
}

// PersonSummary enthält die Anzahl der registrierten Gesichter einer Person
type PersonSummary struct {
	Count int `json:"count"`
}

// FacesIndex ist die Zusammenfassung der Gesichtergalerie
type FacesIndex struct {
	UpdatedAt string                   `json:"updated_at,omitempty"`
	Persons   map[string]PersonSummary `json:"persons"`
}

// TotalFaces liefert die Summe aller registrierten Gesichter
func (f FacesIndex) TotalFaces() int {
	total := 0
	for _, p := range f.Persons {
		total += p.Count
	}
	return total
}

// EnrolledFace ist ein Gesicht aus der Collection
type EnrolledFace struct {
	FaceID          string  `json:"face_id"`
	ExternalImageID string  `json:"external_image_id"`
	Confidence      float64 `json:"confidence"`
}

// KVEntry ist ein Eintrag im Schlüssel-Wert-Speicher für Zähler und Galerie
type KVEntry struct {
	Key       string         `gorm:"primaryKey;size:128"`
	Value     datatypes.JSON `gorm:"type:json"`
	UpdatedAt time.Time      `gorm:"index"`
}

// TableName legt den Tabellennamen fest
func (KVEntry) TableName() string {
	return "kv_entries"
}
