// Package threadalloc packs an ELEMENT_LAYOUT — a declared sequence of
// scalar fields — into one aligned, contiguous []byte slab and hands
// back one threadaddr.Handle per item, in declaration order. Every
// synchronization primitive constructor in internal/syncprim calls
// Make to get its backing memory instead of allocating state words ad
// hoc, so each primitive's own state words sit in one slab a
// dehydration envelope can carry by reference (a Barrier's embedded
// Mutex has a slab of its own).
package threadalloc

import (
	"github.com/matthewtolman/peak-threads/internal/core"
	"github.com/matthewtolman/peak-threads/internal/threadaddr"
)

// LayoutItem declares one ELEMENT_LAYOUT entry: a scalar tag and how
// many consecutive elements of it to reserve. Count defaults to 1
// when zero.
type LayoutItem struct {
	Tag   threadaddr.ScalarTag
	Count int
}

func (li LayoutItem) count() int {
	if li.Count <= 0 {
		return 1
	}
	return li.Count
}

func alignUp(offset, align int) int {
	if align <= 1 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

// planItem is the result of the size-computation pass: where item i's
// window starts once every earlier item has been aligned and packed.
type planItem struct {
	tag    threadaddr.ScalarTag
	offset int
	count  int
}

// plan computes each item's aligned byte offset and the slab's total
// size, or fails with an InvalidLayout ThreadError on an unrecognized
// tag.
func plan(layout []LayoutItem) ([]planItem, int, error) {
	items := make([]planItem, len(layout))
	offset := 0
	for i, li := range layout {
		width := li.Tag.Width()
		if width == 0 {
			return nil, 0, core.NewThreadError(core.KindInvalidLayout, "unknown scalar tag in ELEMENT_LAYOUT").
				WithDetail("index", i)
		}
		offset = alignUp(offset, width)
		items[i] = planItem{tag: li.Tag, offset: offset, count: li.count()}
		offset += width * li.count()
	}
	return items, offset, nil
}

// Make packs layout into one freshly allocated []byte slab with
// natural per-item alignment, builds one threadaddr.Handle per item in
// declaration order, and calls build with those handles (positionally,
// in layout order) followed by extra. The slab itself is never
// returned separately — every Handle carries a view over it, and
// Handle.Memory() recovers it when a caller needs the whole slab (for
// example, to dehydrate-by-reference across a worker boundary).
func Make[T any](build func(handles []threadaddr.Handle, extra ...any) T, layout []LayoutItem, extra ...any) (T, error) {
	var zero T

	items, size, err := plan(layout)
	if err != nil {
		return zero, err
	}

	memory := make([]byte, size)
	handles := make([]threadaddr.Handle, len(items))
	for i, it := range items {
		h, err := threadaddr.NewByTag(it.tag, memory, it.offset, it.count)
		if err != nil {
			return zero, err
		}
		handles[i] = h
	}

	return build(handles, extra...), nil
}
