package types

// Quad is an axis-aligned box in image coordinates: [x0, y0, x1, y1].
// Coordinates are pixels in the image's natural coordinate space.
type Quad [4]float64

// Width returns the horizontal extent of the quad
func (q Quad) Width() float64 { return q[2] - q[0] }

// Height returns the vertical extent of the quad
func (q Quad) Height() float64 { return q[3] - q[1] }

// Scale returns the quad rescaled by independent x and y factors
func (q Quad) Scale(sx, sy float64) Quad {
	return Quad{q[0] * sx, q[1] * sy, q[2] * sx, q[3] * sy}
}

// Region is one detected text region returned by a recognition backend
type Region struct {
	RecognizedText string `json:"recognized_text"`
	TranslatedText string `json:"translated_text"`
	Box            Quad   `json:"box"`
}

// TextOrientation controls how overlay text is laid out
type TextOrientation string

const (
	OrientationHorizontal TextOrientation = "horizontal"
	OrientationVertical   TextOrientation = "vertical"
)

// SessionOptions holds the process-wide overlay session configuration.
// It is mutated only by inbound commands or the initial persisted load,
// and read live by the pipeline and renderer on each invocation.
type SessionOptions struct {
	// ShowTranslated selects translated text (true) or recognized
	// original text (false) for every overlay box.
	ShowTranslated bool `json:"show_translated"`

	// Orientation is the overlay text orientation.
	Orientation TextOrientation `json:"orientation"`

	// Endpoint is the recognition service URL.
	Endpoint string `json:"endpoint"`

	// FontScale multiplies the box-derived overlay font size.
	FontScale float64 `json:"font_scale"`

	// LineWidth is the maximum characters per overlay text line.
	LineWidth int `json:"line_width"`

	// Color is the overlay text color as a hex string, e.g. "#1e90ff".
	Color string `json:"color"`

	// SelectedOptions carries provider-specific options passed through
	// to the recognition backend unmodified.
	SelectedOptions map[string]string `json:"selected_options"`
}

// DefaultOptions returns the session options used before any persisted
// configuration or command has been applied
func DefaultOptions() SessionOptions {
	return SessionOptions{
		ShowTranslated:  true,
		Orientation:     OrientationHorizontal,
		FontScale:       1.0,
		LineWidth:       20,
		Color:           "#000000",
		SelectedOptions: map[string]string{},
	}
}
