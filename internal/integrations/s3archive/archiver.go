package s3archive

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	log "github.com/sirupsen/logrus"
)

// Archiver lädt gespeicherte Erkennungsbilder zusätzlich in einen S3-Bucket
type Archiver struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// New erstellt einen Archiver über die gemeinsame AWS-Session
func New(sess *session.Session, bucket, prefix string) *Archiver {
	return NewWithClient(s3.New(sess), bucket, prefix)
}

// NewWithClient erstellt einen Archiver mit eigenem S3-Client
func NewWithClient(client s3iface.S3API, bucket, prefix string) *Archiver {
	return &Archiver{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}
}

// Key liefert den Objektschlüssel für einen Dateinamen
func (a *Archiver) Key(name string) string {
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Archive lädt ein Bild hoch
func (a *Archiver) Archive(ctx context.Context, name string, data []byte) error {
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s: %w", name, a.bucket, err)
	}
	log.WithFields(log.Fields{
		"bucket": a.bucket,
		"key":    a.Key(name),
		"bytes":  len(data),
	}).Debug("Archived snapshot to S3")
	return nil
}
