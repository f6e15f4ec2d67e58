// Package overlay renders recognition results into overlay boxes
// anchored to an element's displayed geometry.
package overlay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/menta2k/image-overlay/pkg/document"
	"github.com/menta2k/image-overlay/pkg/recognition"
	"github.com/menta2k/image-overlay/pkg/types"
)

// loadingAttr marks an element while its recognition call is in flight
const loadingAttr = "data-overlay-loading"

// boxAttr marks a document node as an overlay box
const boxAttr = "data-overlay-box"

// Box is one rendered overlay region. Geometry is in the element's
// displayed coordinate space.
type Box struct {
	ID             string
	OriginalText   string
	TranslatedText string
	X0, Y0, X1, Y1 float64
	FontSize       float64
	LineWidth      int
	Orientation    types.TextOrientation
	Color          string
	IsError        bool

	mu             sync.Mutex
	showTranslated bool
	node           *document.Node
}

// Text returns the currently displayed text: translated or original
// depending on the last visibility toggle
func (b *Box) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.showTranslated {
		return b.TranslatedText
	}
	return b.OriginalText
}

// ShowTranslated switches the box to its translated text
func (b *Box) ShowTranslated() { b.setShowTranslated(true) }

// ShowOriginal switches the box to its recognized original text
func (b *Box) ShowOriginal() { b.setShowTranslated(false) }

func (b *Box) setShowTranslated(v bool) {
	b.mu.Lock()
	b.showTranslated = v
	b.mu.Unlock()
}

// CopyText returns the text a click on the box copies: always the
// recognized original, regardless of what is displayed
func (b *Box) CopyText() string { return b.OriginalText }

// Attach inserts the box's node under wrapper in the document
func (b *Box) Attach(doc *document.Document, wrapper *document.Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.node != nil {
		return nil
	}
	n := document.NewContainer()
	if err := doc.AppendChild(wrapper, n); err != nil {
		return err
	}
	doc.SetAttr(n, boxAttr, b.ID)
	b.node = n
	return nil
}

// Detach removes the box's node from the document. Idempotent.
func (b *Box) Detach(doc *document.Document) {
	b.mu.Lock()
	n := b.node
	b.node = nil
	b.mu.Unlock()
	if n != nil {
		doc.RemoveChild(n)
	}
}

// Node returns the box's document node, or nil when detached
func (b *Box) Node() *document.Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.node
}

// Renderer produces overlay boxes from recognition results
type Renderer struct{}

// New creates a Renderer
func New() *Renderer {
	return &Renderer{}
}

// Render produces one overlay box per detected region. Region boxes are
// given in the recognized content's coordinate space (srcW x srcH) and
// are rescaled against the element's currently displayed size so the
// overlay tracks responsive layouts.
func (r *Renderer) Render(regions []types.Region, srcW, srcH, dispW, dispH int, opts types.SessionOptions) []*Box {
	if srcW <= 0 || srcH <= 0 {
		return nil
	}
	sx := float64(dispW) / float64(srcW)
	sy := float64(dispH) / float64(srcH)
	color := normalizeColor(opts.Color)

	boxes := make([]*Box, 0, len(regions))
	for _, region := range regions {
		q := region.Box.Scale(sx, sy)
		b := &Box{
			ID:             uuid.NewString(),
			OriginalText:   region.RecognizedText,
			TranslatedText: region.TranslatedText,
			X0:             q[0],
			Y0:             q[1],
			X1:             q[2],
			Y1:             q[3],
			FontSize:       fontSize(q.Height(), opts.FontScale),
			LineWidth:      opts.LineWidth,
			Orientation:    opts.Orientation,
			Color:          color,
			showTranslated: opts.ShowTranslated,
		}
		boxes = append(boxes, b)
	}
	return boxes
}

// RenderError produces the single error overlay box: it covers the
// centered quadrant of the element and carries enlarged text describing
// the failure.
func (r *Renderer) RenderError(err error, dispW, dispH int, opts types.SessionOptions) *Box {
	w, h := float64(dispW), float64(dispH)
	text := ErrorText(err)
	q := types.Quad{w / 4, h / 4, 3 * w / 4, 3 * h / 4}
	return &Box{
		ID:             uuid.NewString(),
		OriginalText:   text,
		TranslatedText: text,
		X0:             q[0],
		Y0:             q[1],
		X1:             q[2],
		Y1:             q[3],
		FontSize:       fontSize(q.Height(), opts.FontScale) * 1.5,
		LineWidth:      opts.LineWidth,
		Orientation:    opts.Orientation,
		Color:          normalizeColor(opts.Color),
		IsError:        true,
		showTranslated: opts.ShowTranslated,
	}
}

// ErrorText maps a recognition failure onto its user-visible overlay text
func ErrorText(err error) string {
	var bre *recognition.BadResponseError
	if errors.As(err, &bre) {
		return fmt.Sprintf("Error [%d]: %s", bre.Status, bre.Message)
	}
	var ne *recognition.NetworkError
	if errors.As(err, &ne) {
		return "Error: network unreachable"
	}
	return "Error: recognition failed"
}

// MarkLoading applies the transient loading marker to an element
func MarkLoading(doc *document.Document, el *document.Node) {
	doc.SetAttr(el, loadingAttr, "1")
}

// ClearLoading removes the loading marker. Idempotent.
func ClearLoading(doc *document.Document, el *document.Node) {
	doc.RemoveAttr(el, loadingAttr)
}

// IsLoading reports whether the loading marker is present
func IsLoading(el *document.Node) bool {
	return el.HasAttr(loadingAttr)
}

// fontSize derives a font size from box height. The divisor keeps a few
// wrapped lines readable inside the box.
func fontSize(boxHeight, scale float64) float64 {
	if scale <= 0 {
		scale = 1.0
	}
	size := boxHeight / 4
	if size < 10 {
		size = 10
	}
	return size * scale
}

// normalizeColor validates a hex color and returns its canonical form,
// falling back to black for unparseable input
func normalizeColor(hex string) string {
	c, err := colorful.Hex(hex)
	if err != nil {
		return "#000000"
	}
	return c.Hex()
}
