// Package registry tracks per-element processing state and the overlay
// records created for each element.
//
// Membership is keyed by element identity (the node pointer). Entries
// are pruned explicitly when an element leaves the document or the
// session is disabled, so removed elements are not retained.
package registry

import (
	"sync"

	"github.com/menta2k/image-overlay/pkg/document"
	"github.com/menta2k/image-overlay/pkg/overlay"
)

// Entry links an element to its wrapper and rendered overlay boxes.
// At most one entry exists per element at any time.
type Entry struct {
	Element *document.Node
	Wrapper *document.Node
	Boxes   []*overlay.Box
}

// Stats is a snapshot of registry occupancy
type Stats struct {
	Processed  int
	Processing int
	Entries    int
}

// Registry is the engine's bookkeeping for processed/processing elements
// and live overlay entries. All methods are safe for concurrent use; the
// mutex makes TryBeginProcessing an atomic check-and-set, which is what
// guarantees single-flight processing.
type Registry struct {
	mu         sync.Mutex
	doc        *document.Document
	processed  map[*document.Node]struct{}
	processing map[*document.Node]struct{}
	entries    []*Entry
}

// New creates a registry bound to a document
func New(doc *document.Document) *Registry {
	return &Registry{
		doc:        doc,
		processed:  make(map[*document.Node]struct{}),
		processing: make(map[*document.Node]struct{}),
	}
}

// TryBeginProcessing atomically checks that el is neither processed nor
// processing and, if so, marks it processing and returns true. Callers
// must invoke it before starting any asynchronous work.
func (r *Registry) TryBeginProcessing(el *document.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processed[el]; ok {
		return false
	}
	if _, ok := r.processing[el]; ok {
		return false
	}
	r.processing[el] = struct{}{}
	return true
}

// MarkProcessed moves el from processing to processed
func (r *Registry) MarkProcessed(el *document.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processing, el)
	r.processed[el] = struct{}{}
}

// EndProcessing clears el's processing flag unconditionally. Pipeline
// callers defer it so no exit path can leave an element stuck in
// "processing" forever.
func (r *Registry) EndProcessing(el *document.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processing, el)
}

// Invalidate clears both flags so el becomes eligible for reprocessing
// (reload, source change)
func (r *Registry) Invalidate(el *document.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.processed, el)
	delete(r.processing, el)
}

// IsProcessed reports whether el completed processing successfully
func (r *Registry) IsProcessed(el *document.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processed[el]
	return ok
}

// IsProcessing reports whether el has a processing episode in flight
func (r *Registry) IsProcessing(el *document.Node) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processing[el]
	return ok
}

// RecordEntry creates the overlay entry for an element and appends it
// to the global entry sequence
func (r *Registry) RecordEntry(el, wrapper *document.Node, boxes []*overlay.Box) *Entry {
	entry := &Entry{Element: el, Wrapper: wrapper, Boxes: boxes}
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return entry
}

// Entries returns a snapshot of the live entry sequence
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// DestroyEntries removes every entry owned by el and detaches its
// overlay boxes from the document. Removal walks the sequence in
// descending index order so removing several entries in one pass cannot
// corrupt it.
func (r *Registry) DestroyEntries(el *document.Node) {
	r.mu.Lock()
	var victims []*Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Element == el {
			victims = append(victims, r.entries[i])
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
		}
	}
	r.mu.Unlock()

	// Detach outside the lock: box detachment publishes document
	// mutations the watcher may react to.
	for _, e := range victims {
		r.detachBoxes(e)
	}
}

// DestroyAll tears down every entry: overlay boxes are detached, the
// element's load listeners are removed, and the element is unwrapped.
// Used on session disable.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	victims := r.entries
	r.entries = nil
	r.processed = make(map[*document.Node]struct{})
	r.processing = make(map[*document.Node]struct{})
	r.mu.Unlock()

	for _, e := range victims {
		r.detachBoxes(e)
		e.Element.DetachLoadListeners()
		r.doc.Unwrap(e.Element)
	}
}

func (r *Registry) detachBoxes(e *Entry) {
	for _, b := range e.Boxes {
		b.Detach(r.doc)
	}
}

// Stats returns a snapshot of registry occupancy
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Processed:  len(r.processed),
		Processing: len(r.processing),
		Entries:    len(r.entries),
	}
}
