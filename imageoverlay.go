// Package imageoverlay provides in-page image recognition and
// translation overlays for a live document.
//
// The engine watches a mutable document for image-bearing elements,
// pipelines each one through an external recognition+translation
// backend exactly once at a time, and keeps the rendered overlay state
// consistent as the document changes underneath it.
//
// Basic usage:
//
//	package main
//
//	import (
//		"log"
//
//		imageoverlay "github.com/menta2k/image-overlay"
//		"github.com/menta2k/image-overlay/pkg/document"
//		"github.com/menta2k/image-overlay/pkg/recognition"
//	)
//
//	func main() {
//		doc := document.New()
//
//		recognizer, err := recognition.NewClient("http://localhost:8765")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		engine := imageoverlay.New(doc, recognizer)
//		engine.Enable()
//		defer engine.Disable()
//
//		// Elements added to doc from here on are discovered, recognized
//		// and overlaid automatically.
//	}
//
// The package consists of these main components:
//
//  1. Document (pkg/document): mutable node tree with a mutation stream
//  2. Pipeline (pkg/pipeline): per-element processing lifecycle
//  3. Registry (pkg/registry): single-flight and overlay bookkeeping
//  4. Session (pkg/session): enable/disable, watcher, sweep, commands
//  5. Recognition (pkg/recognition): service, Ollama and Tesseract backends
//  6. Overlay (pkg/overlay): box rendering against displayed geometry
//
// Discovery runs three ways at once: the initial scan on enable, the
// live mutation stream, and a fixed-interval sweep that resubmits
// anything not yet processed. The sweep is a deliberate safety net for
// missed mutations and for retryable failures, so there is no explicit
// backoff anywhere.
package imageoverlay

import (
	"context"
	"log/slog"

	"github.com/menta2k/image-overlay/pkg/document"
	"github.com/menta2k/image-overlay/pkg/recognition"
	"github.com/menta2k/image-overlay/pkg/registry"
	"github.com/menta2k/image-overlay/pkg/session"
	"github.com/menta2k/image-overlay/pkg/types"
)

// Version of the image overlay library
const Version = "1.0.0"

// Engine is the high-level interface to the overlay system
type Engine struct {
	controller *session.Controller
	doc        *document.Document
}

// New creates an Engine with default configuration
func New(doc *document.Document, recognizer recognition.Recognizer) *Engine {
	return NewWithConfig(session.Config{
		Document:   doc,
		Recognizer: recognizer,
		Options:    types.DefaultOptions(),
	})
}

// NewWithConfig creates an Engine with custom session configuration
func NewWithConfig(cfg session.Config) *Engine {
	return &Engine{
		controller: session.New(cfg),
		doc:        cfg.Document,
	}
}

// Document returns the document the engine operates on
func (e *Engine) Document() *document.Document { return e.doc }

// Controller returns the underlying session controller
func (e *Engine) Controller() *session.Controller { return e.controller }

// Enable starts the overlay session (idempotent)
func (e *Engine) Enable() { e.controller.Enable() }

// Disable stops the session and removes every overlay (idempotent)
func (e *Engine) Disable() { e.controller.Disable() }

// Enabled reports whether the session is running
func (e *Engine) Enabled() bool { return e.controller.Enabled() }

// HandleCommand dispatches one inbound command from the host environment
func (e *Engine) HandleCommand(ctx context.Context, cmd session.Command) error {
	return e.controller.HandleCommand(ctx, cmd)
}

// Options returns a copy of the live session options
func (e *Engine) Options() types.SessionOptions { return e.controller.Options() }

// Stats returns a snapshot of the engine's registry occupancy
func (e *Engine) Stats() registry.Stats { return e.controller.Registry().Stats() }

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

// SetLogger replaces the default slog logger used by new sessions
func SetLogger(logger *slog.Logger) {
	slog.SetDefault(logger)
}
