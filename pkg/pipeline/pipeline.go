// Package pipeline orchestrates the per-element processing lifecycle:
// load-wait, size gate, encode, fingerprint, recognize, then render an
// overlay or an error box.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/menta2k/image-overlay/pkg/document"
	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/overlay"
	"github.com/menta2k/image-overlay/pkg/recognition"
	"github.com/menta2k/image-overlay/pkg/registry"
	"github.com/menta2k/image-overlay/pkg/types"
)

const (
	// loadWaitTimeout bounds the wait for an element's load event so a
	// never-firing event cannot stall a processing episode forever.
	loadWaitTimeout = 5 * time.Second

	// minDisplayArea is the displayed-pixel gate below which elements
	// are skipped without being marked processed (they may grow later).
	minDisplayArea = 10000 // 100x100
)

// Config wires a Pipeline to its collaborators
type Config struct {
	Document   *document.Document
	Registry   *registry.Registry
	Adapter    *encoding.Adapter
	Recognizer recognition.Recognizer
	Renderer   *overlay.Renderer

	// Options returns the live session options; they are read on each
	// invocation, never snapshotted.
	Options func() types.SessionOptions

	// Enabled reports whether the session is still enabled. It is
	// re-checked after the recognition call returns so a late
	// completion after disable renders nothing.
	Enabled func() bool

	Logger *slog.Logger
}

// Pipeline runs the per-element processing lifecycle. A single Pipeline
// serves all submitters; the registry's single-flight guard ensures at
// most one episode per element at a time.
type Pipeline struct {
	doc        *document.Document
	reg        *registry.Registry
	adapter    *encoding.Adapter
	recognizer recognition.Recognizer
	renderer   *overlay.Renderer
	options    func() types.SessionOptions
	enabled    func() bool
	logger     *slog.Logger

	resubmitMu sync.Mutex
	resubmit   func(*document.Node)

	hookedMu sync.Mutex
	hooked   map[*document.Node]bool
}

// New creates a Pipeline
func New(cfg Config) *Pipeline {
	if cfg.Adapter == nil {
		cfg.Adapter = encoding.New()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = overlay.New()
	}
	if cfg.Options == nil {
		defaults := types.DefaultOptions()
		cfg.Options = func() types.SessionOptions { return defaults }
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		doc:        cfg.Document,
		reg:        cfg.Registry,
		adapter:    cfg.Adapter,
		recognizer: cfg.Recognizer,
		renderer:   cfg.Renderer,
		options:    cfg.Options,
		enabled:    cfg.Enabled,
		logger:     cfg.Logger,
		hooked:     make(map[*document.Node]bool),
	}
}

// SetResubmit registers the function reload listeners use to feed an
// invalidated element back into processing
func (p *Pipeline) SetResubmit(fn func(*document.Node)) {
	p.resubmitMu.Lock()
	p.resubmit = fn
	p.resubmitMu.Unlock()
}

// Forget drops the reload hook state for an element that left the
// document, detaching its load listeners so the hook is not retained
// for a node the session no longer tracks. A re-added element gets a
// fresh hook on its next successful episode.
func (p *Pipeline) Forget(el *document.Node) {
	p.hookedMu.Lock()
	delete(p.hooked, el)
	p.hookedMu.Unlock()
	el.DetachLoadListeners()
}

// Reset forgets which elements carry reload listeners. Called on session
// disable, after the registry has detached the listeners themselves.
func (p *Pipeline) Reset() {
	p.hookedMu.Lock()
	p.hooked = make(map[*document.Node]bool)
	p.hookedMu.Unlock()
}

// ProcessImage runs one processing episode for el. The processing flag
// is always cleared before it returns, on every path. A nil return means
// either success or a silent retryable abandon; a non-nil return is a
// recognition failure that has already been rendered as an error overlay.
func (p *Pipeline) ProcessImage(ctx context.Context, el *document.Node) error {
	if p.reg.IsProcessed(el) || p.reg.IsProcessing(el) {
		return nil
	}
	if !p.reg.TryBeginProcessing(el) {
		return nil
	}
	defer p.reg.EndProcessing(el)

	// Wait for a still-loading image to settle, bounded.
	if el.Kind() == document.KindImage && !el.Loaded() {
		if err := el.WaitLoad(ctx, loadWaitTimeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Debug("image load wait timed out, retry via sweep")
			return nil
		}
	}
	if el.LoadFailed() {
		return nil
	}

	// Size gate. The element may resize later, so it stays eligible.
	dispW, dispH := el.DisplaySize()
	if dispW*dispH < minDisplayArea {
		return nil
	}

	content, err := p.adapter.Encode(el)
	if err != nil {
		p.logger.Debug("encode failed, retry via sweep", "err", err)
		return nil
	}
	fp := recognition.Fingerprint(content)

	opts := p.options()
	regions, rerr := func() ([]types.Region, error) {
		overlay.MarkLoading(p.doc, el)
		defer overlay.ClearLoading(p.doc, el)
		return p.recognizer.Recognize(ctx, fp, content, opts)
	}()
	rerr = recognition.Classify(rerr)

	// A late completion after disable must not resurrect overlays.
	if !p.enabled() {
		return nil
	}

	el, wrapper, err := p.doc.Wrap(el)
	if err != nil {
		p.logger.Debug("wrap failed, retry via sweep", "err", err)
		return nil
	}

	// Replace any stale entry left by a previous failed attempt, e.g.
	// an error overlay the sweep is now retrying.
	p.reg.DestroyEntries(el)

	// Displayed size may have changed while the call was in flight.
	dispW, dispH = el.DisplaySize()

	if rerr != nil {
		box := p.renderer.RenderError(rerr, dispW, dispH, opts)
		if err := box.Attach(p.doc, wrapper); err != nil {
			p.logger.Debug("error overlay attach failed", "err", err)
		}
		p.reg.RecordEntry(el, wrapper, []*overlay.Box{box})
		p.hookReload(el)
		p.logger.Info("recognition failed", "fingerprint", fp[:12], "err", rerr)
		return rerr
	}

	boxes := p.renderer.Render(regions, content.Width, content.Height, dispW, dispH, opts)
	for _, b := range boxes {
		if err := b.Attach(p.doc, wrapper); err != nil {
			p.logger.Debug("overlay attach failed", "err", err)
		}
	}
	p.reg.RecordEntry(el, wrapper, boxes)
	p.reg.MarkProcessed(el)
	p.hookReload(el)
	p.logger.Debug("processed element", "fingerprint", fp[:12], "regions", len(regions))
	return nil
}

// hookReload attaches, once per element, a load listener that
// invalidates and resubmits after a reload (e.g. a new source finished
// fetching into the same element)
func (p *Pipeline) hookReload(el *document.Node) {
	p.hookedMu.Lock()
	if p.hooked[el] {
		p.hookedMu.Unlock()
		return
	}
	p.hooked[el] = true
	p.hookedMu.Unlock()

	el.OnLoad(func(n *document.Node) {
		p.reg.DestroyEntries(n)
		p.reg.Invalidate(n)
		p.resubmitMu.Lock()
		fn := p.resubmit
		p.resubmitMu.Unlock()
		if fn != nil {
			fn(n)
		}
	})
}
