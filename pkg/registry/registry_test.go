package registry

import (
	"sync"
	"testing"

	"github.com/menta2k/image-overlay/pkg/document"
	"github.com/menta2k/image-overlay/pkg/overlay"
	"github.com/menta2k/image-overlay/pkg/types"
)

func testRegions(n int) []types.Region {
	regions := make([]types.Region, n)
	for i := range regions {
		regions[i] = types.Region{
			RecognizedText: "original",
			TranslatedText: "translated",
			Box:            types.Quad{0, float64(i * 50), 100, float64(i*50 + 40)},
		}
	}
	return regions
}

func testOptions() types.SessionOptions {
	return types.DefaultOptions()
}

func newTestDoc(t *testing.T) (*document.Document, *document.Node) {
	t.Helper()
	doc := document.New()
	el := document.NewCanvas(200, 200, nil, true)
	if err := doc.AppendChild(doc.Root(), el); err != nil {
		t.Fatalf("AppendChild failed: %v", err)
	}
	return doc, el
}

func TestTryBeginProcessingSingleFlight(t *testing.T) {
	doc, el := newTestDoc(t)
	reg := New(doc)

	if !reg.TryBeginProcessing(el) {
		t.Fatal("first TryBeginProcessing should succeed")
	}
	if reg.TryBeginProcessing(el) {
		t.Error("second TryBeginProcessing should fail while processing")
	}

	reg.EndProcessing(el)
	if !reg.TryBeginProcessing(el) {
		t.Error("TryBeginProcessing should succeed again after EndProcessing")
	}
}

func TestTryBeginProcessingAfterProcessed(t *testing.T) {
	doc, el := newTestDoc(t)
	reg := New(doc)

	reg.TryBeginProcessing(el)
	reg.MarkProcessed(el)
	reg.EndProcessing(el)

	if reg.TryBeginProcessing(el) {
		t.Error("TryBeginProcessing should fail for a processed element")
	}
	if !reg.IsProcessed(el) {
		t.Error("element should be processed")
	}
	if reg.IsProcessing(el) {
		t.Error("element should not be processing after MarkProcessed")
	}
}

func TestProcessedAndProcessingAreExclusive(t *testing.T) {
	doc, el := newTestDoc(t)
	reg := New(doc)

	reg.TryBeginProcessing(el)
	reg.MarkProcessed(el)

	if reg.IsProcessed(el) && reg.IsProcessing(el) {
		t.Error("element must never be both processed and processing")
	}
}

func TestTryBeginProcessingConcurrent(t *testing.T) {
	doc, el := newTestDoc(t)
	reg := New(doc)

	const attempts = 32
	wins := make(chan bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- reg.TryBeginProcessing(el)
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	if won != 1 {
		t.Errorf("expected exactly 1 winner, got %d", won)
	}
}

func TestInvalidateClearsBothFlags(t *testing.T) {
	doc, el := newTestDoc(t)
	reg := New(doc)

	reg.TryBeginProcessing(el)
	reg.MarkProcessed(el)
	reg.Invalidate(el)

	if reg.IsProcessed(el) || reg.IsProcessing(el) {
		t.Error("Invalidate should clear both flags")
	}
	if !reg.TryBeginProcessing(el) {
		t.Error("element should be eligible again after Invalidate")
	}
}

func TestDestroyEntriesDetachesBoxes(t *testing.T) {
	doc, el := newTestDoc(t)
	reg := New(doc)

	_, wrapper, err := doc.Wrap(el)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	r := overlay.New()
	boxes := r.Render(testRegions(3), 200, 200, 200, 200, testOptions())
	for _, b := range boxes {
		if err := b.Attach(doc, wrapper); err != nil {
			t.Fatalf("Attach failed: %v", err)
		}
	}
	reg.RecordEntry(el, wrapper, boxes)

	reg.DestroyEntries(el)

	if got := reg.Stats().Entries; got != 0 {
		t.Errorf("expected 0 entries, got %d", got)
	}
	for i, b := range boxes {
		if b.Node() != nil {
			t.Errorf("box %d still attached after DestroyEntries", i)
		}
	}
}

func TestDestroyEntriesMultipleInOnePass(t *testing.T) {
	doc, el := newTestDoc(t)
	other := document.NewCanvas(200, 200, nil, true)
	if err := doc.AppendChild(doc.Root(), other); err != nil {
		t.Fatalf("AppendChild failed: %v", err)
	}
	reg := New(doc)

	// Interleave entries for two elements; destroying one element's
	// entries must leave the other's intact.
	reg.RecordEntry(el, nil, nil)
	reg.RecordEntry(other, nil, nil)
	reg.RecordEntry(el, nil, nil)
	reg.RecordEntry(other, nil, nil)
	reg.RecordEntry(el, nil, nil)

	reg.DestroyEntries(el)

	entries := reg.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 surviving entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Element != other {
			t.Errorf("entry %d belongs to the destroyed element", i)
		}
	}
}

func TestDestroyAll(t *testing.T) {
	doc, el := newTestDoc(t)
	reg := New(doc)

	_, wrapper, err := doc.Wrap(el)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	r := overlay.New()
	boxes := r.Render(testRegions(2), 200, 200, 200, 200, testOptions())
	for _, b := range boxes {
		if err := b.Attach(doc, wrapper); err != nil {
			t.Fatalf("Attach failed: %v", err)
		}
	}
	reg.RecordEntry(el, wrapper, boxes)
	reg.TryBeginProcessing(el)
	reg.MarkProcessed(el)

	reg.DestroyAll()

	stats := reg.Stats()
	if stats.Entries != 0 || stats.Processed != 0 || stats.Processing != 0 {
		t.Errorf("expected empty registry, got %+v", stats)
	}
	for i, b := range boxes {
		if b.Node() != nil {
			t.Errorf("box %d still attached after DestroyAll", i)
		}
	}
	if el.Parent() != doc.Root() {
		t.Error("element should be unwrapped back under root")
	}
}
