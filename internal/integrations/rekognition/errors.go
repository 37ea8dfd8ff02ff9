package rekognition

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/rekognition"
)

// ErrorKind klassifiziert Fehler des Rekognition-Dienstes
type ErrorKind string

const (
	KindTransientNetwork ErrorKind = "transient_network"
	KindAccessDenied     ErrorKind = "access_denied"
	KindNotFound         ErrorKind = "not_found"
	KindGeneric          ErrorKind = "generic_service_error"
)

// ErrNoCollection wird zurückgegeben, wenn keine Collection konfiguriert ist
var ErrNoCollection = errors.New("no rekognition collection configured")

// ServiceError ist ein klassifizierter Fehler eines einzelnen Dienstaufrufs
type ServiceError struct {
	Op   string
	Kind ErrorKind
	Code string
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rekognition %s failed (%s, %s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("rekognition %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// KindOf liefert die Fehlerklasse eines Fehlers; nicht klassifizierte Fehler gelten als generisch
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}

// IsTransient prüft, ob der Fehler ein vorübergehendes Netzwerkproblem ist
func IsTransient(err error) bool {
	return KindOf(err) == KindTransientNetwork
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	code := ""
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		code = aerr.Code()
	}
	return &ServiceError{Op: op, Kind: classify(err), Code: code, Err: err}
}

func classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransientNetwork
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case request.ErrCodeRequestError,
			request.ErrCodeResponseTimeout,
			request.CanceledErrorCode,
			"RequestTimeout",
			"RequestTimeoutException":
			return KindTransientNetwork
		case rekognition.ErrCodeAccessDeniedException,
			"AccessDenied",
			"UnrecognizedClientException",
			"InvalidClientTokenId",
			"InvalidSignatureException",
			"SignatureDoesNotMatch",
			"ExpiredTokenException":
			return KindAccessDenied
		case rekognition.ErrCodeResourceNotFoundException,
			"NoSuchBucket",
			"NotFound":
			return KindNotFound
		}
		if orig := aerr.OrigErr(); orig != nil && isNetworkError(orig) {
			return KindTransientNetwork
		}
		return KindGeneric
	}

	if isNetworkError(err) {
		return KindTransientNetwork
	}
	return KindGeneric
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
