// Package session owns the overlay session lifecycle: enable/disable,
// the mutation watcher, the periodic sweep, and the inbound command
// surface.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/menta2k/image-overlay/pkg/document"
	"github.com/menta2k/image-overlay/pkg/encoding"
	"github.com/menta2k/image-overlay/pkg/overlay"
	"github.com/menta2k/image-overlay/pkg/pipeline"
	"github.com/menta2k/image-overlay/pkg/recognition"
	"github.com/menta2k/image-overlay/pkg/registry"
	"github.com/menta2k/image-overlay/pkg/types"
)

const (
	// defaultSweepInterval is the fixed period of the fallback re-scan
	// that resubmits unprocessed elements. The sweep is a deliberate
	// redundancy next to the mutation watcher, not a replacement for it.
	defaultSweepInterval = 2 * time.Second

	// mutationBuffer sizes the watcher's mutation channel. Overflow is
	// dropped by the document and recovered by the sweep.
	mutationBuffer = 256

	watcherID = "overlay-watcher"
)

// Config wires a Controller to its collaborators
type Config struct {
	Document   *document.Document
	Recognizer recognition.Recognizer

	// Adapter and Renderer default to fresh instances when nil.
	Adapter  *encoding.Adapter
	Renderer *overlay.Renderer

	// Options is the initial session configuration, typically the
	// persisted options read at startup.
	Options types.SessionOptions

	// SweepInterval overrides the periodic sweep period; zero keeps the
	// default.
	SweepInterval time.Duration

	Logger *slog.Logger

	// LogLevel, when set, is mutated by the set-log-level command.
	LogLevel *slog.LevelVar
}

// Controller drives the overlay session: it scans the document on
// enable, consumes the mutation stream, sweeps periodically, and
// dispatches inbound commands.
type Controller struct {
	doc        *document.Document
	reg        *registry.Registry
	pipe       *pipeline.Pipeline
	recognizer recognition.Recognizer
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	sweepEvery time.Duration

	mu        sync.Mutex
	enabled   bool
	opts      types.SessionOptions
	stop      chan struct{}
	mutCh     chan document.Mutation
	selection *document.Node
	openUI    []func()

	wg sync.WaitGroup
}

// New creates a disabled Controller
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Options.SelectedOptions == nil {
		cfg.Options.SelectedOptions = map[string]string{}
	}

	c := &Controller{
		doc:        cfg.Document,
		recognizer: cfg.Recognizer,
		logger:     cfg.Logger,
		logLevel:   cfg.LogLevel,
		sweepEvery: cfg.SweepInterval,
		opts:       cfg.Options,
	}
	c.reg = registry.New(cfg.Document)
	c.pipe = pipeline.New(pipeline.Config{
		Document:   cfg.Document,
		Registry:   c.reg,
		Adapter:    cfg.Adapter,
		Recognizer: cfg.Recognizer,
		Renderer:   cfg.Renderer,
		Options:    c.Options,
		Enabled:    c.Enabled,
		Logger:     cfg.Logger,
	})
	c.pipe.SetResubmit(c.Submit)
	return c
}

// Registry exposes the session's registry for stats and tests
func (c *Controller) Registry() *registry.Registry { return c.reg }

// Pipeline exposes the session's pipeline
func (c *Controller) Pipeline() *pipeline.Pipeline { return c.pipe }

// Enabled reports whether the session is enabled
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Options returns a copy of the live session options
func (c *Controller) Options() types.SessionOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	opts := c.opts
	selected := make(map[string]string, len(opts.SelectedOptions))
	for k, v := range opts.SelectedOptions {
		selected[k] = v
	}
	opts.SelectedOptions = selected
	return opts
}

// mutateOptions applies fn to the live options under the lock
func (c *Controller) mutateOptions(fn func(*types.SessionOptions)) {
	c.mu.Lock()
	fn(&c.opts)
	c.mu.Unlock()
}

// Enable starts the session: initial full-document scan, mutation
// watcher, and periodic sweep. Idempotent.
func (c *Controller) Enable() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true
	c.stop = make(chan struct{})
	c.mutCh = make(chan document.Mutation, mutationBuffer)
	stop := c.stop
	mutCh := c.mutCh
	c.mu.Unlock()

	if err := c.doc.Subscribe(watcherID, mutCh); err != nil {
		c.logger.Error("mutation subscribe failed", "err", err)
	}

	// Initial scan submits every trackable already in the document.
	c.doc.Walk(func(n *document.Node) bool {
		if n.Trackable() {
			c.Submit(n)
		}
		return true
	})

	c.wg.Add(1)
	go c.watch(stop, mutCh)
	c.logger.Info("overlay session enabled")
}

// Disable stops the watcher and sweep, destroys every overlay entry,
// and closes any open interactive UI. Idempotent. In-flight pipeline
// runs are not aborted; their late completions render nothing because
// the enabled re-check fails.
func (c *Controller) Disable() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	close(c.stop)
	ui := c.openUI
	c.openUI = nil
	c.mu.Unlock()

	c.doc.Unsubscribe(watcherID)
	c.wg.Wait()

	c.reg.DestroyAll()
	c.pipe.Reset()
	for _, closeFn := range ui {
		closeFn()
	}
	c.logger.Info("overlay session disabled")
}

// Submit feeds an element into the pipeline on its own goroutine.
// Duplicate submissions are collapsed by the registry's single-flight
// guard. Submissions while disabled are dropped.
func (c *Controller) Submit(el *document.Node) {
	if el == nil || !el.Trackable() || !c.Enabled() {
		return
	}
	go func() {
		if err := c.pipe.ProcessImage(context.Background(), el); err != nil {
			c.logger.Debug("processing episode failed", "err", err)
		}
	}()
}

// watch consumes the mutation stream and ticks the periodic sweep until
// the session is disabled
func (c *Controller) watch(stop <-chan struct{}, mutCh <-chan document.Mutation) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case m := <-mutCh:
			c.handleMutation(m)
		case <-ticker.C:
			c.sweep()
		}
	}
}

// handleMutation classifies one document change and drives the pipeline
// and registry accordingly
func (c *Controller) handleMutation(m document.Mutation) {
	switch m.Type {
	case document.NodeAdded:
		for _, t := range c.doc.TrackablesIn(m.Node) {
			if !c.reg.IsProcessed(t) {
				c.Submit(t)
			}
		}
	case document.NodeRemoved:
		// Teardown must be synchronous with the removal event: overlay
		// nodes for a removed element must not dangle in the document.
		for _, t := range c.doc.TrackablesIn(m.Node) {
			c.reg.DestroyEntries(t)
			c.reg.Invalidate(t)
			c.pipe.Forget(t)
		}
	case document.AttrChanged:
		if document.IsSourceAttr(m.Attr) && m.Node.Trackable() {
			// Client-side image swap without element replacement.
			c.reg.DestroyEntries(m.Node)
			c.reg.Invalidate(m.Node)
			c.Submit(m.Node)
		}
	}
}

// sweep resubmits every trackable not yet marked processed. It is the
// backstop for missed mutations and for retryable failures; retry is
// fixed-interval, no backoff.
func (c *Controller) sweep() {
	c.doc.Walk(func(n *document.Node) bool {
		if n.Trackable() && !c.reg.IsProcessed(n) {
			c.Submit(n)
		}
		return true
	})
}

// SetSelection registers the document node holding the current text
// selection; translate-selection mutates its text in place
func (c *Controller) SetSelection(n *document.Node) {
	c.mu.Lock()
	c.selection = n
	c.mu.Unlock()
}

// RegisterOpenUI registers a closer for an open interactive UI surface
// (context menu, dialog); Disable runs and forgets all of them
func (c *Controller) RegisterOpenUI(closeFn func()) {
	c.mu.Lock()
	c.openUI = append(c.openUI, closeFn)
	c.mu.Unlock()
}
