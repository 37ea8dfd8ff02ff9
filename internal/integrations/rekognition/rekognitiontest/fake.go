// Package rekognitiontest stellt eine In-Memory-Implementierung der Rekognition-API für Tests bereit.
package rekognitiontest

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/rekognition"
	"github.com/aws/aws-sdk-go/service/rekognition/rekognitioniface"
)

// Fake implementiert die benötigten Methoden von rekognitioniface.RekognitionAPI.
// Nicht überschriebene Methoden führen zu einem Panic über das eingebettete nil-Interface.
type Fake struct {
	rekognitioniface.RekognitionAPI

	mu sync.Mutex

	Labels    []*rekognition.Label
	LabelsErr error

	Faces    []*rekognition.BoundingBox
	FacesErr error

	// SearchResults wird der Reihe nach pro Suchaufruf verwendet; nil bedeutet kein Treffer
	SearchResults []*rekognition.FaceMatch
	SearchErr     error

	Enrolled  []*rekognition.Face
	IndexErr  error
	ListErr   error
	PageSize  int
	DeleteErr error

	DescribeErr error

	Calls         map[string]int
	SearchImages  [][]byte
	DeleteBatches [][]string
	ListTokens    []string
}

// New erstellt einen leeren Fake
func New() *Fake {
	return &Fake{Calls: make(map[string]int)}
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Calls == nil {
		f.Calls = make(map[string]int)
	}
	f.Calls[op]++
}

// CallCount liefert die Anzahl Aufrufe einer Operation
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

// PersonLabel erzeugt ein Label mit einer Instanz
func PersonLabel(name string, confidence, left, top, width, height float64) *rekognition.Label {
	return &rekognition.Label{
		Name:       aws.String(name),
		Confidence: aws.Float64(confidence),
		Instances: []*rekognition.Instance{{
			Confidence:  aws.Float64(confidence),
			BoundingBox: Box(left, top, width, height),
		}},
	}
}

// SceneLabel erzeugt ein Label ohne Instanzen
func SceneLabel(name string, confidence float64) *rekognition.Label {
	return &rekognition.Label{Name: aws.String(name), Confidence: aws.Float64(confidence)}
}

// Box erzeugt eine Rekognition-Box
func Box(left, top, width, height float64) *rekognition.BoundingBox {
	return &rekognition.BoundingBox{
		Left:   aws.Float64(left),
		Top:    aws.Float64(top),
		Width:  aws.Float64(width),
		Height: aws.Float64(height),
	}
}

// Match erzeugt einen Treffer für die Gesichtssuche
func Match(name string, similarity float64) *rekognition.FaceMatch {
	return &rekognition.FaceMatch{
		Similarity: aws.Float64(similarity),
		Face: &rekognition.Face{
			FaceId:          aws.String("face-" + name),
			ExternalImageId: aws.String(name),
		},
	}
}

func (f *Fake) DetectLabelsWithContext(_ aws.Context, _ *rekognition.DetectLabelsInput, _ ...request.Option) (*rekognition.DetectLabelsOutput, error) {
	f.count("DetectLabels")
	if f.LabelsErr != nil {
		return nil, f.LabelsErr
	}
	return &rekognition.DetectLabelsOutput{Labels: f.Labels}, nil
}

func (f *Fake) DetectFacesWithContext(_ aws.Context, _ *rekognition.DetectFacesInput, _ ...request.Option) (*rekognition.DetectFacesOutput, error) {
	f.count("DetectFaces")
	if f.FacesErr != nil {
		return nil, f.FacesErr
	}
	details := make([]*rekognition.FaceDetail, 0, len(f.Faces))
	for _, b := range f.Faces {
		details = append(details, &rekognition.FaceDetail{BoundingBox: b})
	}
	return &rekognition.DetectFacesOutput{FaceDetails: details}, nil
}

func (f *Fake) SearchFacesByImageWithContext(_ aws.Context, in *rekognition.SearchFacesByImageInput, _ ...request.Option) (*rekognition.SearchFacesByImageOutput, error) {
	f.count("SearchFacesByImage")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchImages = append(f.SearchImages, in.Image.Bytes)
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	out := &rekognition.SearchFacesByImageOutput{}
	if len(f.SearchResults) > 0 {
		m := f.SearchResults[0]
		f.SearchResults = f.SearchResults[1:]
		if m != nil {
			out.FaceMatches = []*rekognition.FaceMatch{m}
		}
	}
	return out, nil
}

func (f *Fake) IndexFacesWithContext(_ aws.Context, in *rekognition.IndexFacesInput, _ ...request.Option) (*rekognition.IndexFacesOutput, error) {
	f.count("IndexFaces")
	if f.IndexErr != nil {
		return nil, f.IndexErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	face := &rekognition.Face{
		FaceId:          aws.String(fmt.Sprintf("face-%d", len(f.Enrolled)+1)),
		ExternalImageId: in.ExternalImageId,
		Confidence:      aws.Float64(99.9),
	}
	f.Enrolled = append(f.Enrolled, face)
	return &rekognition.IndexFacesOutput{FaceRecords: []*rekognition.FaceRecord{{Face: face}}}, nil
}

func (f *Fake) ListFacesWithContext(_ aws.Context, in *rekognition.ListFacesInput, _ ...request.Option) (*rekognition.ListFacesOutput, error) {
	f.count("ListFaces")
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListTokens = append(f.ListTokens, aws.StringValue(in.NextToken))

	size := f.PageSize
	if size <= 0 {
		size = len(f.Enrolled) + 1
	}
	start := 0
	if tok := aws.StringValue(in.NextToken); tok != "" {
		fmt.Sscanf(tok, "%d", &start)
	}
	end := min(start+size, len(f.Enrolled))
	out := &rekognition.ListFacesOutput{Faces: append([]*rekognition.Face(nil), f.Enrolled[start:end]...)}
	if end < len(f.Enrolled) {
		out.NextToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func (f *Fake) DeleteFacesWithContext(_ aws.Context, in *rekognition.DeleteFacesInput, _ ...request.Option) (*rekognition.DeleteFacesOutput, error) {
	f.count("DeleteFaces")
	if f.DeleteErr != nil {
		return nil, f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := aws.StringValueSlice(in.FaceIds)
	f.DeleteBatches = append(f.DeleteBatches, ids)

	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	kept := f.Enrolled[:0]
	deleted := make([]*string, 0, len(ids))
	for _, face := range f.Enrolled {
		if remove[aws.StringValue(face.FaceId)] {
			deleted = append(deleted, face.FaceId)
			continue
		}
		kept = append(kept, face)
	}
	f.Enrolled = kept
	return &rekognition.DeleteFacesOutput{DeletedFaces: deleted}, nil
}

func (f *Fake) DescribeCollectionWithContext(_ aws.Context, _ *rekognition.DescribeCollectionInput, _ ...request.Option) (*rekognition.DescribeCollectionOutput, error) {
	f.count("DescribeCollection")
	if f.DescribeErr != nil {
		return nil, f.DescribeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &rekognition.DescribeCollectionOutput{FaceCount: aws.Int64(int64(len(f.Enrolled)))}, nil
}

// Enroll legt Gesichter direkt im Fake an
func (f *Fake) Enroll(name string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.Enrolled = append(f.Enrolled, &rekognition.Face{
			FaceId:          aws.String(fmt.Sprintf("%s-%d", name, len(f.Enrolled)+1)),
			ExternalImageId: aws.String(name),
		})
	}
}
