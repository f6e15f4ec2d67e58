// Package encoding turns a document element's pixel content into a
// compact, content-addressable payload suitable for hashing and for
// submission to a recognition backend.
package encoding

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-overlay/pkg/document"
)

// ErrUnreadable is returned when an element's pixels cannot be exported,
// e.g. a tainted cross-origin canvas
var ErrUnreadable = errors.New("encoding: element pixels are not readable")

// Encoded is the serialized form of an element's content
type Encoded struct {
	Bytes  []byte
	MIME   string
	Width  int
	Height int
}

// Base64 returns the encoded bytes as standard base64
func (e *Encoded) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Bytes)
}

// Config controls how elements are serialized for submission
type Config struct {
	// Format is the wire format: jpg, png or webp.
	Format string
	// MaxSendSize caps the long side in pixels before encoding; 0 keeps
	// the original resolution.
	MaxSendSize int
	// Quality is the JPEG/WebP encoding quality (1-100).
	Quality int
	// Lossless enables WebP lossless mode.
	Lossless bool
}

// DefaultConfig returns the encoding configuration used when none is given
func DefaultConfig() Config {
	return Config{Format: "jpg", MaxSendSize: 1536, Quality: 85}
}

// Adapter serializes document elements for the recognition pipeline
type Adapter struct {
	config Config
}

// New creates an Adapter with default configuration
func New() *Adapter {
	return &Adapter{config: DefaultConfig()}
}

// NewWithConfig creates an Adapter with custom configuration
func NewWithConfig(config Config) *Adapter {
	if config.Format == "" {
		config.Format = "jpg"
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 85
	}
	return &Adapter{config: config}
}

// Encode serializes the element's current pixel content. It fails when
// the element holds no readable bitmap; callers treat that as retryable
// since content may arrive later.
func (a *Adapter) Encode(el *document.Node) (*Encoded, error) {
	bitmap := el.Bitmap()
	if bitmap == nil {
		return nil, ErrUnreadable
	}
	return a.EncodeImage(bitmap)
}

// EncodeImage serializes an in-memory image using the adapter's format
// and size budget
func (a *Adapter) EncodeImage(img image.Image) (*Encoded, error) {
	img = a.downscale(img)
	b := img.Bounds()

	var buf bytes.Buffer
	var mime string
	switch strings.ToLower(a.config.Format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("png encode failed: %w", err)
		}
		mime = "image/png"
	case "webp":
		opts := &webp.Options{Lossless: a.config.Lossless, Quality: float32(a.config.Quality)}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("webp encode failed: %w", err)
		}
		mime = "image/webp"
	default: // jpg/jpeg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: a.config.Quality}); err != nil {
			return nil, fmt.Errorf("jpeg encode failed: %w", err)
		}
		mime = "image/jpeg"
	}

	return &Encoded{Bytes: buf.Bytes(), MIME: mime, Width: b.Dx(), Height: b.Dy()}, nil
}

// Decode parses encoded bytes back into an image. WebP is handled by the
// registered x/image decoder.
func (a *Adapter) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}
	return img, nil
}

func (a *Adapter) downscale(img image.Image) image.Image {
	maxDim := a.config.MaxSendSize
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}
