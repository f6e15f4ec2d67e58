package document

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

// wrapperAttr marks container nodes created by Wrap
const wrapperAttr = "data-overlay-wrapper"

// Node is a single document element. Identity is the pointer itself;
// no separate ID is minted.
type Node struct {
	kind Kind

	// mu guards attrs and the tree links (parent, children, doc) for
	// readers that do not hold the document lock. Structural mutation
	// additionally serializes on Document.mu, which is always acquired
	// first.
	mu       sync.Mutex
	parent   *Node
	children []*Node
	doc      *Document
	attrs    map[string]string

	loadMu    sync.Mutex
	bitmap    image.Image
	readable  bool
	naturalW  int
	naturalH  int
	dispW     int
	dispH     int
	loaded    bool
	loadErr   bool
	loadCh    chan struct{}
	onLoadFns []func(*Node)
}

// Kind returns the node's kind
func (n *Node) Kind() Kind { return n.kind }

// Trackable reports whether the node is an image-bearing element
// eligible for recognition
func (n *Node) Trackable() bool {
	return n.kind == KindImage || n.kind == KindCanvas
}

// Parent returns the node's parent, or nil when detached
func (n *Node) Parent() *Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parent
}

// Children returns a copy of the node's child list
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Attr returns the named attribute value
func (n *Node) Attr(key string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attrs[key]
}

// HasAttr reports whether the named attribute is set
func (n *Node) HasAttr(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.attrs[key]
	return ok
}

// attachedLocked reports whether n's parent chain reaches root.
// Caller holds the document mutex.
func (n *Node) attachedLocked(root *Node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == root {
			return true
		}
	}
	return false
}

// Bitmap returns the node's pixel content, or nil when the node is
// unloaded or unreadable
func (n *Node) Bitmap() image.Image {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	if !n.readable {
		return nil
	}
	return n.bitmap
}

// Readable reports whether the node's pixels can be exported
func (n *Node) Readable() bool {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	return n.readable
}

// NaturalSize returns the node's intrinsic pixel dimensions
func (n *Node) NaturalSize() (int, int) {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	return n.naturalW, n.naturalH
}

// DisplaySize returns the node's current displayed dimensions
func (n *Node) DisplaySize() (int, int) {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	return n.dispW, n.dispH
}

// SetDisplaySize updates the node's displayed dimensions (responsive
// layout changes do this without touching pixel content)
func (n *Node) SetDisplaySize(w, h int) {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	n.dispW, n.dispH = w, h
}

// Loaded reports whether the node's load has settled (success or error)
func (n *Node) Loaded() bool {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	return n.loaded
}

// LoadFailed reports whether the node's load settled with an error
func (n *Node) LoadFailed() bool {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	return n.loadErr
}

// CompleteLoad settles the node with pixel content. Calling it on an
// already-loaded node models a reload (e.g. a new source finished
// fetching) and fires registered load listeners again.
func (n *Node) CompleteLoad(bitmap image.Image) {
	n.loadMu.Lock()
	n.bitmap = bitmap
	n.readable = bitmap != nil
	if bitmap != nil {
		b := bitmap.Bounds()
		n.naturalW, n.naturalH = b.Dx(), b.Dy()
		if n.dispW == 0 && n.dispH == 0 {
			n.dispW, n.dispH = n.naturalW, n.naturalH
		}
	}
	n.loadErr = false
	first := !n.loaded
	n.loaded = true
	if first {
		close(n.loadCh)
	}
	fns := make([]func(*Node), len(n.onLoadFns))
	copy(fns, n.onLoadFns)
	n.loadMu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

// FailLoad settles the node with a load error
func (n *Node) FailLoad() {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	if n.loaded {
		return
	}
	n.loaded = true
	n.loadErr = true
	close(n.loadCh)
}

// OnLoad registers a listener fired on every subsequent load completion.
// Used by the pipeline to catch reloads of an element it has processed.
func (n *Node) OnLoad(fn func(*Node)) {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	n.onLoadFns = append(n.onLoadFns, fn)
}

// DetachLoadListeners removes every registered load listener
func (n *Node) DetachLoadListeners() {
	n.loadMu.Lock()
	defer n.loadMu.Unlock()
	n.onLoadFns = nil
}

// ErrLoadTimeout is returned by WaitLoad when the bounded wait elapses
// before the node's load settles
var ErrLoadTimeout = errors.New("document: image load wait timed out")

// WaitLoad blocks until the node's load settles, the context is
// cancelled, or timeout elapses. A never-firing load event therefore
// cannot stall a caller forever.
func (n *Node) WaitLoad(ctx context.Context, timeout time.Duration) error {
	n.loadMu.Lock()
	ch := n.loadCh
	done := n.loaded
	n.loadMu.Unlock()
	if done {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrLoadTimeout
	}
}

// Wrap inserts a wrapper container between el and its parent and moves
// el under it. Returns the (unchanged) element and the wrapper. Fails
// when el is detached, which makes wrapping structurally impossible.
func (d *Document) Wrap(el *Node) (*Node, *Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el == nil || el.parent == nil {
		return nil, nil, errors.New("document: cannot wrap detached element")
	}
	if el.parent.HasAttr(wrapperAttr) {
		// Already wrapped
		return el, el.parent, nil
	}
	wrapper := &Node{kind: KindContainer, attrs: map[string]string{wrapperAttr: "1"}, doc: d}
	p := el.parent
	wrapper.parent = p
	wrapper.children = []*Node{el}
	p.mu.Lock()
	for i, c := range p.children {
		if c == el {
			p.children[i] = wrapper
			break
		}
	}
	p.mu.Unlock()
	el.mu.Lock()
	el.parent = wrapper
	el.mu.Unlock()
	return el, wrapper, nil
}

// Unwrap reverses Wrap, moving el back to the wrapper's position and
// discarding the wrapper together with any overlay children. Idempotent:
// unwrapping an unwrapped element is a no-op.
func (d *Document) Unwrap(el *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el == nil || el.parent == nil || !el.parent.HasAttr(wrapperAttr) {
		return
	}
	wrapper := el.parent
	p := wrapper.parent
	if p == nil {
		el.mu.Lock()
		el.parent = nil
		el.mu.Unlock()
		wrapper.mu.Lock()
		wrapper.children = nil
		wrapper.mu.Unlock()
		return
	}
	p.mu.Lock()
	for i, c := range p.children {
		if c == wrapper {
			p.children[i] = el
			break
		}
	}
	p.mu.Unlock()
	el.mu.Lock()
	el.parent = p
	el.mu.Unlock()
	wrapper.mu.Lock()
	wrapper.parent = nil
	wrapper.children = nil
	wrapper.mu.Unlock()
}

// IsWrapper reports whether the node is a wrapper container created by Wrap
func (n *Node) IsWrapper() bool { return n.HasAttr(wrapperAttr) }
