// Package recognition computes content fingerprints and talks to the
// external recognition+translation backends.
package recognition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/types"
)

// Fingerprint returns the stable content hash of an encoded payload,
// used by the service for caching and dedup
func Fingerprint(content *encoding.Encoded) string {
	sum := sha256.Sum256(content.Bytes)
	return hex.EncodeToString(sum[:])
}

// Recognizer is the external recognition+translation service boundary
type Recognizer interface {
	// Recognize submits encoded content and returns the detected text
	// regions with translations, boxes in the content's natural
	// coordinate space. Failures are one of *NetworkError,
	// *BadResponseError or *UnknownError.
	Recognize(ctx context.Context, fingerprint string, content *encoding.Encoded, opts types.SessionOptions) ([]types.Region, error)

	// Translate translates free-form text, used by the
	// translate-selection command.
	Translate(ctx context.Context, text string, opts types.SessionOptions) (string, error)
}

// NetworkError reports that the service produced no response at all
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("recognition: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BadResponseError reports that the service responded with an error payload
type BadResponseError struct {
	Status  int
	Message string
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("recognition: bad response [%d]: %s", e.Status, e.Message)
}

// UnknownError covers every failure that is neither a transport error
// nor a service error payload
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("recognition: unknown error: %v", e.Err)
}

func (e *UnknownError) Unwrap() error { return e.Err }

// Classify folds an arbitrary error into the recognition error taxonomy.
// Errors already in the taxonomy pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ne *NetworkError
	var bre *BadResponseError
	var ue *UnknownError
	if errors.As(err, &ne) || errors.As(err, &bre) || errors.As(err, &ue) {
		return err
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &NetworkError{Err: err}
	}
	return &UnknownError{Err: err}
}
