package rekognition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/rekognition"
	"github.com/aws/aws-sdk-go/service/rekognition/rekognitioniface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/config"
)

// Fehlercodes des Selbsttests
const (
	SelfTestInvalidAuth        = "invalid_auth"
	SelfTestCannotConnect      = "cannot_connect"
	SelfTestAccessDenied       = "access_denied"
	SelfTestCollectionNotFound = "collection_not_found"
	SelfTestWrongRegion        = "wrong_region"
	SelfTestBucketNotFound     = "bucket_not_found"
)

// SelfTestResult ist das Ergebnis des Verbindungstests
type SelfTestResult struct {
	OK     bool                   `json:"ok"`
	Error  string                 `json:"error,omitempty"`
	Detail string                 `json:"detail,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

func failed(code, detail string) SelfTestResult {
	return SelfTestResult{OK: false, Error: code, Detail: detail}
}

// SelfTester prüft Zugangsdaten, Collection und optional den S3-Bucket
type SelfTester struct {
	sts          stsiface.STSAPI
	rek          rekognitioniface.RekognitionAPI
	s3           s3iface.S3API
	region       string
	bucket       string
	prefix       string
	collectionID string
}

// NewSelfTester erstellt einen Selbsttest für die übergebene Session
func NewSelfTester(sess *session.Session, cfg config.AWSConfig) *SelfTester {
	return NewSelfTesterWithAPIs(sts.New(sess), rekognition.New(sess), s3.New(sess), cfg)
}

// NewSelfTesterWithAPIs erlaubt das Einsetzen eigener API-Implementierungen
func NewSelfTesterWithAPIs(stsAPI stsiface.STSAPI, rekAPI rekognitioniface.RekognitionAPI, s3API s3iface.S3API, cfg config.AWSConfig) *SelfTester {
	return &SelfTester{
		sts:          stsAPI,
		rek:          rekAPI,
		s3:           s3API,
		region:       cfg.Region,
		bucket:       strings.TrimSpace(cfg.S3Bucket),
		prefix:       strings.Trim(strings.TrimSpace(cfg.S3Prefix), "/"),
		collectionID: strings.TrimSpace(cfg.CollectionID),
	}
}

// Run führt den Test einmalig aus. Es gibt keine Wiederholungen.
func (t *SelfTester) Run(ctx context.Context) SelfTestResult {
	data := map[string]interface{}{"region": t.region}

	// 1) Zugangsdaten über STS prüfen
	ident, err := t.sts.GetCallerIdentityWithContext(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		code := errorCode(err)
		log.WithError(err).Warn("AWS self-test: STS call failed")
		if code == "InvalidClientTokenId" || code == "SignatureDoesNotMatch" {
			return failed(SelfTestInvalidAuth, fmt.Sprintf("STS auth failed: %s", code))
		}
		return failed(SelfTestCannotConnect, fmt.Sprintf("STS error: %s", code))
	}
	data["account"] = aws.StringValue(ident.Account)
	data["arn"] = aws.StringValue(ident.Arn)

	// 2) Collection prüfen
	collectionMissing := false
	desc, err := t.rek.DescribeCollectionWithContext(ctx, &rekognition.DescribeCollectionInput{
		CollectionId: aws.String(t.collectionID),
	})
	if err != nil {
		if classify(err) == KindTransientNetwork {
			return failed(SelfTestCannotConnect, "Unable to reach AWS Rekognition endpoint. Check network/region.")
		}
		code := errorCode(err)
		switch code {
		case rekognition.ErrCodeResourceNotFoundException:
			// falsche Region oder falsche Collection; wird mit dem Bucket weiter eingegrenzt
			collectionMissing = true
		case rekognition.ErrCodeAccessDeniedException, "AccessDenied":
			return failed(SelfTestAccessDenied, "Access denied on Rekognition. Check IAM policy.")
		default:
			return failed(SelfTestCannotConnect, fmt.Sprintf("Rekognition error: %s", code))
		}
	} else {
		data["face_count"] = aws.Int64Value(desc.FaceCount)
	}

	// 3) S3-Bucket prüfen, falls konfiguriert
	if t.bucket == "" {
		if collectionMissing {
			return failed(SelfTestCollectionNotFound, fmt.Sprintf("Collection not found: %s", t.collectionID))
		}
		return SelfTestResult{OK: true, Data: data}
	}

	if res, done := t.checkBucket(ctx, collectionMissing); done {
		return res
	}
	data["bucket"] = t.bucket
	return SelfTestResult{OK: true, Data: data}
}

func (t *SelfTester) checkBucket(ctx context.Context, collectionMissing bool) (SelfTestResult, bool) {
	_, err := t.s3.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(t.bucket)})
	if err == nil && collectionMissing {
		if region := t.bucketRegion(ctx); region != "" && region != t.region {
			return failed(SelfTestWrongRegion, fmt.Sprintf("Region mismatch. Stack/bucket is in %s, but you configured %s.", region, t.region)), true
		}
		return failed(SelfTestCollectionNotFound, fmt.Sprintf("Collection not found: %s", t.collectionID)), true
	}

	if err == nil {
		key := "_afr_test.txt"
		if t.prefix != "" {
			key = t.prefix + "/" + key
		}
		_, err = t.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader([]byte("ok")),
		})
		if err == nil {
			_, err = t.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(t.bucket),
				Key:    aws.String(key),
			})
		}
	}
	if err == nil {
		return SelfTestResult{}, false
	}

	log.WithError(err).Warn("AWS self-test: S3 check failed")
	if classify(err) == KindTransientNetwork {
		return failed(SelfTestCannotConnect, "Unable to reach AWS S3 endpoint. Check network/region."), true
	}

	code := errorCode(err)
	status := statusCode(err)
	switch {
	case code == s3.ErrCodeNoSuchBucket || code == "NotFound" || code == "404" || status == 404:
		return failed(SelfTestBucketNotFound, fmt.Sprintf("S3 bucket not found: %s", t.bucket)), true
	case code == "AccessDenied" || code == "AccessDeniedException" || code == "403" || status == 403:
		return failed(SelfTestAccessDenied, "Access denied on S3. Check IAM policy."), true
	case code == "PermanentRedirect" || code == "301" || status == 301:
		if region := t.bucketRegion(ctx); region != "" && region != t.region {
			return failed(SelfTestWrongRegion, fmt.Sprintf("Bucket is in %s, not %s.", region, t.region)), true
		}
		return failed(SelfTestWrongRegion, "Bucket exists but region mismatch. Check Region."), true
	}
	return failed(SelfTestCannotConnect, fmt.Sprintf("S3 error: %s", code)), true
}

// bucketRegion liefert die Region des Buckets oder "" wenn unbekannt
func (t *SelfTester) bucketRegion(ctx context.Context) string {
	out, err := t.s3.GetBucketLocationWithContext(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(t.bucket)})
	if err != nil {
		return ""
	}
	// us-east-1 wird als leerer LocationConstraint gemeldet
	if loc := aws.StringValue(out.LocationConstraint); loc != "" {
		return loc
	}
	return "us-east-1"
}

func errorCode(err error) string {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code()
	}
	return "ClientError"
}

func statusCode(err error) int {
	var rf awserr.RequestFailure
	if errors.As(err, &rf) {
		return rf.StatusCode()
	}
	return 0
}
