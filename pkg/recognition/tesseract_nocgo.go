//go:build !cgo

package recognition

import (
	"context"
	"errors"

	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/types"
)

// TesseractClient requires cgo; this stub keeps non-cgo builds working.
type TesseractClient struct{}

var errNoCgo = errors.New("recognition: tesseract backend requires a cgo build")

// NewTesseractClient fails on builds without cgo
func NewTesseractClient(language string) (*TesseractClient, error) {
	return nil, errNoCgo
}

// Recognize implements Recognizer
func (c *TesseractClient) Recognize(ctx context.Context, fingerprint string, content *encoding.Encoded, opts types.SessionOptions) ([]types.Region, error) {
	return nil, &UnknownError{Err: errNoCgo}
}

// Translate implements Recognizer
func (c *TesseractClient) Translate(ctx context.Context, text string, opts types.SessionOptions) (string, error) {
	return "", errNoCgo
}
