// Package document provides the mutable node tree the overlay engine
// operates on, together with its mutation event stream.
//
// The tree stands in for a live page: container nodes hold image-bearing
// leaves (raster images and canvas surfaces), attributes can change under
// the engine's feet, and every structural or attribute mutation is
// published to subscribers in the order it was applied. The engine's
// watcher consumes that stream; tests drive the same code paths by
// applying synthetic mutations.
package document

import (
	"errors"
	"image"
	"sync"
)

// Kind classifies a node
type Kind int

const (
	// KindContainer is a structural node with no pixel content
	KindContainer Kind = iota
	// KindImage is a raster image element
	KindImage
	// KindCanvas is a drawable canvas surface
	KindCanvas
)

// MutationType classifies a document change event
type MutationType int

const (
	// NodeAdded reports a subtree inserted into the document
	NodeAdded MutationType = iota
	// NodeRemoved reports a subtree removed from the document
	NodeRemoved
	// AttrChanged reports an attribute change on an attached node
	AttrChanged
)

// Mutation is one document change event delivered to subscribers
type Mutation struct {
	Type MutationType
	Node *Node
	Attr string
}

// Subscription errors
var (
	ErrSubscriberExists   = errors.New("document: subscriber already registered")
	ErrSubscriberNotFound = errors.New("document: subscriber not found")
	ErrNilChannel         = errors.New("document: subscriber channel is nil")
)

// Document is a mutable node tree with an ordered mutation stream.
// All methods are safe for concurrent use.
type Document struct {
	mu      sync.Mutex
	root    *Node
	subs    map[string]chan<- Mutation
	dropped uint64
}

// New creates an empty document with a container root
func New() *Document {
	d := &Document{subs: make(map[string]chan<- Mutation)}
	d.root = &Node{kind: KindContainer, attrs: map[string]string{}}
	d.root.doc = d
	return d
}

// Root returns the document's root container
func (d *Document) Root() *Node { return d.root }

// Subscribe registers a mutation subscriber. Delivery is non-blocking:
// if ch is full the event is dropped and counted; the engine's periodic
// sweep is the safety net for dropped events.
func (d *Document) Subscribe(id string, ch chan<- Mutation) error {
	if ch == nil {
		return ErrNilChannel
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[id]; ok {
		return ErrSubscriberExists
	}
	d.subs[id] = ch
	return nil
}

// Unsubscribe removes a mutation subscriber. Idempotent.
func (d *Document) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, id)
}

// DroppedMutations returns the number of mutation events dropped due to
// full subscriber channels
func (d *Document) DroppedMutations() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// publish delivers a mutation to all subscribers. Caller holds d.mu, so
// events reach every subscriber in document order.
func (d *Document) publish(m Mutation) {
	for _, ch := range d.subs {
		select {
		case ch <- m:
		default:
			d.dropped++
		}
	}
}

// AppendChild attaches child under parent, publishing NodeAdded when
// the child lands in the live document. Building a subtree under a
// detached parent publishes nothing until the subtree itself is
// attached. The child must not already be attached elsewhere.
func (d *Document) AppendChild(parent, child *Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if parent == nil || child == nil {
		return errors.New("document: nil node")
	}
	if child.parent != nil {
		return errors.New("document: node already attached")
	}
	child.mu.Lock()
	child.parent = parent
	child.doc = d
	child.mu.Unlock()
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()
	if child.attachedLocked(d.root) {
		d.publish(Mutation{Type: NodeAdded, Node: child})
	}
	return nil
}

// RemoveChild detaches child from its parent, publishing NodeRemoved
// when the child was part of the live document. Removing an
// already-detached node is a no-op.
func (d *Document) RemoveChild(child *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(child)
}

func (d *Document) removeLocked(child *Node) {
	if child == nil || child.parent == nil {
		return
	}
	wasAttached := child.attachedLocked(d.root)
	p := child.parent
	p.mu.Lock()
	for i, c := range p.children {
		if c == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	child.mu.Lock()
	child.parent = nil
	child.mu.Unlock()
	if wasAttached {
		d.publish(Mutation{Type: NodeRemoved, Node: child})
	}
}

// SetAttr sets an attribute on a node and publishes AttrChanged when the
// node is attached to this document
func (d *Document) SetAttr(n *Node, key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n.mu.Lock()
	if n.attrs == nil {
		n.attrs = map[string]string{}
	}
	n.attrs[key] = value
	n.mu.Unlock()
	if n.attachedLocked(d.root) {
		d.publish(Mutation{Type: AttrChanged, Node: n, Attr: key})
	}
}

// RemoveAttr deletes an attribute without publishing a mutation
func (d *Document) RemoveAttr(n *Node, key string) {
	n.mu.Lock()
	delete(n.attrs, key)
	n.mu.Unlock()
}

// Walk visits every node in the document in depth-first order. Returning
// false from fn stops the walk.
func (d *Document) Walk(fn func(*Node) bool) {
	d.mu.Lock()
	snapshot := collect(d.root, nil)
	d.mu.Unlock()
	for _, n := range snapshot {
		if !fn(n) {
			return
		}
	}
}

// Contains reports whether n is currently attached to the live document
func (d *Document) Contains(n *Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return n != nil && n.attachedLocked(d.root)
}

func collect(n *Node, out []*Node) []*Node {
	out = append(out, n)
	for _, c := range n.children {
		out = collect(c, out)
	}
	return out
}

// TrackablesIn returns every trackable element in n's subtree,
// including n itself when it is trackable. The subtree is snapshotted
// under the document lock, so the scan is safe against concurrent
// structural mutation; n may be attached or detached (a just-removed
// subtree still scans correctly).
func (d *Document) TrackablesIn(n *Node) []*Node {
	d.mu.Lock()
	snapshot := collect(n, nil)
	d.mu.Unlock()
	var out []*Node
	for _, m := range snapshot {
		if m.Trackable() {
			out = append(out, m)
		}
	}
	return out
}

// SourceAttrs are the attribute names treated as image sources: a change
// to one of them invalidates prior recognition state
var SourceAttrs = map[string]bool{"src": true, "srcset": true, "data-src": true}

// IsSourceAttr reports whether key names an image source attribute
func IsSourceAttr(key string) bool { return SourceAttrs[key] }

// NewImage creates a detached raster image element. The element starts
// in the loading state; call CompleteLoad or FailLoad to settle it.
func NewImage(src string) *Node {
	n := &Node{
		kind:   KindImage,
		attrs:  map[string]string{"src": src},
		loadCh: make(chan struct{}),
	}
	return n
}

// NewLoadedImage creates a detached raster image element that already
// holds pixel content. Displayed size defaults to natural size.
func NewLoadedImage(src string, bitmap image.Image) *Node {
	n := NewImage(src)
	n.CompleteLoad(bitmap)
	return n
}

// NewCanvas creates a detached canvas surface. A canvas is always
// "loaded"; readable controls whether its pixels can be exported
// (a cross-origin tainted canvas is unreadable).
func NewCanvas(w, h int, bitmap image.Image, readable bool) *Node {
	n := &Node{
		kind:     KindCanvas,
		attrs:    map[string]string{},
		bitmap:   bitmap,
		readable: readable,
		naturalW: w,
		naturalH: h,
		dispW:    w,
		dispH:    h,
		loaded:   true,
		loadCh:   closedChan(),
	}
	if !readable {
		n.bitmap = nil
	}
	return n
}

// NewContainer creates a detached container node
func NewContainer() *Node {
	return &Node{kind: KindContainer, attrs: map[string]string{}}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
