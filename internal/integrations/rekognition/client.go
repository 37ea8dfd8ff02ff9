package rekognition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/rekognition"
	"github.com/aws/aws-sdk-go/service/rekognition/rekognitioniface"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/core/geometry"
	"aws-face-recognition-go/internal/core/models"
)

const (
	// DefaultMatchThreshold ist die Mindestähnlichkeit für einen Treffer in der Galerie
	DefaultMatchThreshold = 80.0

	// maxDeleteBatch ist das Limit von DeleteFaces pro Aufruf
	maxDeleteBatch = 10
	listPageSize   = 4096
)

// Namen der Operationen für Zähler und Logs
const (
	OpDetectLabels       = "detect_labels"
	OpDetectFaces        = "detect_faces"
	OpSearchFaces        = "search_faces_by_image"
	OpIndexFaces         = "index_faces"
	OpListFaces          = "list_faces"
	OpDeleteFaces        = "delete_faces"
	OpDescribeCollection = "describe_collection"
)

// CallObserver wird für jeden tatsächlich ausgeführten Dienstaufruf benachrichtigt
type CallObserver interface {
	ObserveCall(op string, err error)
}

// FaceMatch ist der beste Treffer einer Gesichtssuche
type FaceMatch struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
	FaceID     string  `json:"face_id"`
}

// Client kapselt die Aufrufe an AWS Rekognition
type Client struct {
	api          rekognitioniface.RekognitionAPI
	collectionID string
	observers    []CallObserver
}

// NewSession erstellt eine AWS-Session ohne SDK-interne Wiederholungen
func NewSession(cfg config.AWSConfig) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region:     aws.String(cfg.Region),
		MaxRetries: aws.Int(0),
		HTTPClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return sess, nil
}

// NewClient erstellt einen Client für die angegebene Collection
func NewClient(api rekognitioniface.RekognitionAPI, collectionID string, observers ...CallObserver) *Client {
	return &Client{
		api:          api,
		collectionID: strings.TrimSpace(collectionID),
		observers:    observers,
	}
}

// AddObserver registriert einen weiteren CallObserver
func (c *Client) AddObserver(o CallObserver) {
	c.observers = append(c.observers, o)
}

// CollectionID liefert die konfigurierte Collection
func (c *Client) CollectionID() string {
	return c.collectionID
}

// HasCollection prüft, ob Gesichtssuche möglich ist
func (c *Client) HasCollection() bool {
	return c.collectionID != ""
}

func (c *Client) observe(op string, err error) {
	for _, o := range c.observers {
		o.ObserveCall(op, err)
	}
}

// DetectLabels liefert Objekte mit eigener Box sowie Szenen-Labels ohne Box
func (c *Client) DetectLabels(ctx context.Context, img []byte) ([]models.DetectedObject, []models.SceneLabel, error) {
	out, err := c.api.DetectLabelsWithContext(ctx, &rekognition.DetectLabelsInput{
		Image: &rekognition.Image{Bytes: img},
	})
	c.observe(OpDetectLabels, err)
	if err != nil {
		return nil, nil, wrap(OpDetectLabels, err)
	}

	objects := make([]models.DetectedObject, 0)
	labels := make([]models.SceneLabel, 0)
	for _, label := range out.Labels {
		name := strings.ToLower(aws.StringValue(label.Name))
		if len(label.Instances) == 0 {
			labels = append(labels, models.SceneLabel{
				Name:       name,
				Confidence: round(aws.Float64Value(label.Confidence), 3),
			})
			continue
		}
		for _, inst := range label.Instances {
			if inst.BoundingBox == nil {
				continue
			}
			box := boxOf(inst.BoundingBox)
			objects = append(objects, models.DetectedObject{
				Name:        name,
				Confidence:  round(aws.Float64Value(inst.Confidence), 3),
				BoundingBox: box,
				Centroid:    box.Center(),
			})
		}
	}
	return objects, labels, nil
}

// DetectFaces liefert die Boxen aller Gesichter im Bild
func (c *Client) DetectFaces(ctx context.Context, img []byte) ([]geometry.BoundingBox, error) {
	out, err := c.api.DetectFacesWithContext(ctx, &rekognition.DetectFacesInput{
		Image:      &rekognition.Image{Bytes: img},
		Attributes: aws.StringSlice([]string{rekognition.AttributeDefault}),
	})
	c.observe(OpDetectFaces, err)
	if err != nil {
		return nil, wrap(OpDetectFaces, err)
	}

	boxes := make([]geometry.BoundingBox, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		if fd.BoundingBox == nil {
			continue
		}
		boxes = append(boxes, boxOf(fd.BoundingBox))
	}
	return boxes, nil
}

// SearchFace sucht das ähnlichste Gesicht in der Collection. Kein Treffer ergibt (nil, nil).
func (c *Client) SearchFace(ctx context.Context, crop []byte, threshold float64) (*FaceMatch, error) {
	if !c.HasCollection() {
		return nil, ErrNoCollection
	}
	if len(crop) == 0 {
		return nil, nil
	}

	out, err := c.api.SearchFacesByImageWithContext(ctx, &rekognition.SearchFacesByImageInput{
		CollectionId:       aws.String(c.collectionID),
		Image:              &rekognition.Image{Bytes: crop},
		MaxFaces:           aws.Int64(1),
		FaceMatchThreshold: aws.Float64(threshold),
	})
	c.observe(OpSearchFaces, err)
	if err != nil {
		// Kein Gesicht im Ausschnitt wird als "kein Treffer" behandelt
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == rekognition.ErrCodeInvalidParameterException {
			log.Debugf("Face search found no face in crop: %v", aerr.Message())
			return nil, nil
		}
		return nil, wrap(OpSearchFaces, err)
	}

	if len(out.FaceMatches) == 0 || out.FaceMatches[0].Face == nil {
		return nil, nil
	}
	m := out.FaceMatches[0]
	name := strings.TrimSpace(aws.StringValue(m.Face.ExternalImageId))
	if name == "" {
		name = models.UnknownName
	}
	return &FaceMatch{
		Name:       name,
		Similarity: round(aws.Float64Value(m.Similarity), 2),
		FaceID:     aws.StringValue(m.Face.FaceId),
	}, nil
}

// EnrollFace registriert das (größte) Gesicht im Bild unter dem angegebenen Namen
func (c *Client) EnrollFace(ctx context.Context, img []byte, name string) (string, error) {
	if !c.HasCollection() {
		return "", ErrNoCollection
	}
	out, err := c.api.IndexFacesWithContext(ctx, &rekognition.IndexFacesInput{
		CollectionId:        aws.String(c.collectionID),
		Image:               &rekognition.Image{Bytes: img},
		ExternalImageId:     aws.String(name),
		MaxFaces:            aws.Int64(1),
		QualityFilter:       aws.String(rekognition.QualityFilterAuto),
		DetectionAttributes: aws.StringSlice([]string{rekognition.AttributeDefault}),
	})
	c.observe(OpIndexFaces, err)
	if err != nil {
		return "", wrap(OpIndexFaces, err)
	}
	if len(out.FaceRecords) == 0 || out.FaceRecords[0].Face == nil {
		return "", &ServiceError{Op: OpIndexFaces, Kind: KindGeneric, Err: errors.New("no face found in image")}
	}
	return aws.StringValue(out.FaceRecords[0].Face.FaceId), nil
}

// ListAllFaces liest die komplette Collection seitenweise
func (c *Client) ListAllFaces(ctx context.Context) ([]models.EnrolledFace, error) {
	if !c.HasCollection() {
		return nil, ErrNoCollection
	}

	faces := make([]models.EnrolledFace, 0)
	var token *string
	for {
		out, err := c.api.ListFacesWithContext(ctx, &rekognition.ListFacesInput{
			CollectionId: aws.String(c.collectionID),
			MaxResults:   aws.Int64(listPageSize),
			NextToken:    token,
		})
		c.observe(OpListFaces, err)
		if err != nil {
			return nil, wrap(OpListFaces, err)
		}
		for _, f := range out.Faces {
			faces = append(faces, models.EnrolledFace{
				FaceID:          aws.StringValue(f.FaceId),
				ExternalImageID: aws.StringValue(f.ExternalImageId),
				Confidence:      aws.Float64Value(f.Confidence),
			})
		}
		if aws.StringValue(out.NextToken) == "" {
			break
		}
		token = out.NextToken
	}
	return faces, nil
}

// CountByName zählt die Gesichter pro Name. Leere Namen werden als "Unknown" gezählt.
func CountByName(faces []models.EnrolledFace) map[string]int {
	counts := make(map[string]int)
	for _, f := range faces {
		name := strings.TrimSpace(f.ExternalImageID)
		if name == "" {
			name = models.UnknownName
		}
		counts[name]++
	}
	return counts
}

// FaceIDsByName liefert die Face-IDs einer Person (Groß-/Kleinschreibung wird ignoriert)
func FaceIDsByName(faces []models.EnrolledFace, name string) []string {
	ids := make([]string, 0)
	for _, f := range faces {
		if strings.EqualFold(strings.TrimSpace(f.ExternalImageID), strings.TrimSpace(name)) {
			ids = append(ids, f.FaceID)
		}
	}
	sort.Strings(ids)
	return ids
}

// DeleteFaces löscht Gesichter in Blöcken von höchstens 10 IDs und liefert die Anzahl gelöschter Gesichter
func (c *Client) DeleteFaces(ctx context.Context, faceIDs []string) (int, error) {
	if !c.HasCollection() {
		return 0, ErrNoCollection
	}

	deleted := 0
	for start := 0; start < len(faceIDs); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(faceIDs))
		out, err := c.api.DeleteFacesWithContext(ctx, &rekognition.DeleteFacesInput{
			CollectionId: aws.String(c.collectionID),
			FaceIds:      aws.StringSlice(faceIDs[start:end]),
		})
		c.observe(OpDeleteFaces, err)
		if err != nil {
			return deleted, wrap(OpDeleteFaces, err)
		}
		deleted += len(out.DeletedFaces)
	}
	return deleted, nil
}

// DescribeCollection prüft, ob die Collection existiert, und liefert die Anzahl der Gesichter
func (c *Client) DescribeCollection(ctx context.Context) (int64, error) {
	if !c.HasCollection() {
		return 0, ErrNoCollection
	}
	out, err := c.api.DescribeCollectionWithContext(ctx, &rekognition.DescribeCollectionInput{
		CollectionId: aws.String(c.collectionID),
	})
	c.observe(OpDescribeCollection, err)
	if err != nil {
		return 0, wrap(OpDescribeCollection, err)
	}
	return aws.Int64Value(out.FaceCount), nil
}

func boxOf(b *rekognition.BoundingBox) geometry.BoundingBox {
	return geometry.FromLTWH(
		aws.Float64Value(b.Left),
		aws.Float64Value(b.Top),
		aws.Float64Value(b.Width),
		aws.Float64Value(b.Height),
	)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
