// Package merge combines several ordered document sequences into one
// without materializing any of them, preserving order and breaking ties
// in favor of the earlier source.
package merge

import (
	"container/heap"

	"github.com/flowpbx/callsearch/internal/store"
)

// KeyFunc extracts the ordering key from a document (e.g. started_at or
// created_at, depending on which scanner is merging).
type KeyFunc func(store.Document) int64

// Merge returns a lazy Seq that pulls one head from each source, emits the
// minimum by KeyFunc, and advances that source. It terminates when every
// source is exhausted and stops immediately on the first source error.
func Merge(key KeyFunc, sources ...store.Seq[store.Document]) store.Seq[store.Document] {
	return func(yield func(store.Document, error) bool) {
		streams := make([]*pullStream, 0, len(sources))
		for i, s := range sources {
			ps := newPullStream(i, s)
			if ps == nil {
				continue
			}
			streams = append(streams, ps)
		}
		defer func() {
			for _, s := range streams {
				s.cancel()
			}
		}()

		h := &streamHeap{key: key}
		for _, s := range streams {
			doc, err, ok := s.next()
			if err != nil {
				yield(store.Document{}, err)
				return
			}
			if ok {
				heap.Push(h, headItem{stream: s, doc: doc})
			}
		}
		heap.Init(h)

		for h.Len() > 0 {
			item := heap.Pop(h).(headItem)
			if !yield(item.doc, nil) {
				return
			}
			doc, err, ok := item.stream.next()
			if err != nil {
				yield(store.Document{}, err)
				return
			}
			if ok {
				heap.Push(h, headItem{stream: item.stream, doc: doc})
			}
		}
	}
}

// headItem is one source's current head document pending emission.
type headItem struct {
	stream *pullStream
	doc    store.Document
}

// streamHeap orders headItems by key ascending, breaking ties by the
// index of the originating source so the earlier source wins.
type streamHeap struct {
	key   KeyFunc
	items []headItem
}

func (h *streamHeap) Len() int { return len(h.items) }
func (h *streamHeap) Less(i, j int) bool {
	ki, kj := h.key(h.items[i].doc), h.key(h.items[j].doc)
	if ki != kj {
		return ki < kj
	}
	return h.items[i].stream.index < h.items[j].stream.index
}
func (h *streamHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *streamHeap) Push(x any)    { h.items = append(h.items, x.(headItem)) }
func (h *streamHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items = h.items[:n-1]
	return item
}

// pullStream drives one source Seq from a goroutine, turning the
// push-style yield callback into a pull-style next() call so the merge
// loop can interleave multiple sources.
type pullStream struct {
	index    int
	docCh    chan store.Document
	errCh    chan error
	doneCh   chan struct{}
	finished bool
}

func newPullStream(index int, seq store.Seq[store.Document]) *pullStream {
	ps := &pullStream{
		index:  index,
		docCh:  make(chan store.Document),
		errCh:  make(chan error, 1),
		doneCh: make(chan struct{}),
	}
	go func() {
		seq(func(doc store.Document, err error) bool {
			if err != nil {
				select {
				case ps.errCh <- err:
				case <-ps.doneCh:
				}
				return false
			}
			select {
			case ps.docCh <- doc:
				return true
			case <-ps.doneCh:
				return false
			}
		})
		close(ps.docCh)
	}()
	return ps
}

// next returns the next document, or an error, or ok=false when the
// source is exhausted.
func (ps *pullStream) next() (store.Document, error, bool) {
	if ps.finished {
		return store.Document{}, nil, false
	}
	select {
	case doc, open := <-ps.docCh:
		if !open {
			ps.finished = true
			select {
			case err := <-ps.errCh:
				return store.Document{}, err, false
			default:
				return store.Document{}, nil, false
			}
		}
		return doc, nil, true
	case err := <-ps.errCh:
		ps.finished = true
		return store.Document{}, err, false
	}
}

func (ps *pullStream) cancel() {
	if !ps.finished {
		close(ps.doneCh)
	}
}
