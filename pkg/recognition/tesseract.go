//go:build cgo

package recognition

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/types"
)

// TesseractClient performs recognition locally with Tesseract. There is
// no translation backend, so translated text falls back to the
// recognized text.
type TesseractClient struct {
	language string
}

// NewTesseractClient creates a local OCR recognizer. language is a
// Tesseract language code such as "eng"; the corresponding training
// data must be installed.
func NewTesseractClient(language string) (*TesseractClient, error) {
	if language == "" {
		language = "eng"
	}
	return &TesseractClient{language: language}, nil
}

// Recognize implements Recognizer
func (c *TesseractClient) Recognize(ctx context.Context, fingerprint string, content *encoding.Encoded, opts types.SessionOptions) ([]types.Region, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(c.language); err != nil {
		return nil, &UnknownError{Err: fmt.Errorf("set language: %w", err)}
	}
	if err := client.SetImageFromBytes(content.Bytes); err != nil {
		return nil, &UnknownError{Err: fmt.Errorf("set image: %w", err)}
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, &UnknownError{Err: fmt.Errorf("bounding boxes: %w", err)}
	}

	regions := make([]types.Region, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		regions = append(regions, types.Region{
			RecognizedText: text,
			TranslatedText: text,
			Box: types.Quad{
				float64(box.Box.Min.X), float64(box.Box.Min.Y),
				float64(box.Box.Max.X), float64(box.Box.Max.Y),
			},
		})
	}
	return regions, nil
}

// Translate implements Recognizer. Tesseract has no translation
// capability, so the input is returned unchanged.
func (c *TesseractClient) Translate(ctx context.Context, text string, opts types.SessionOptions) (string, error) {
	return text, nil
}
