// Package deque provides a slice-backed queue of values ordered by arrival.
package deque

// Deque is a slice-backed queue. Values are appended at the end and dropped
// from the front, so the front always holds the oldest value.
type Deque[Elem any] struct {
	el []Elem
	// left is the position of the leftmost valid element in el.
	// left >= len(el) implies the deque is empty.
	left int
}

// Len returns the number of elements in the deque.
func (d Deque[Elem]) Len() int {
	return len(d.el) - d.left
}

// Append adds elements to the end of the deque.
func (d Deque[Elem]) Append(ee ...Elem) Deque[Elem] {
	if d.left > 0 && len(d.el)+len(ee) > cap(d.el) {
		// Reclaim the space dropped from the front before growing.
		n := copy(d.el, d.el[d.left:])
		clear(d.el[n:])
		d.el = d.el[:n]
		d.left = 0
	}
	d.el = append(d.el, ee...)
	return d
}

// DropFrontWhile removes elements from the front of the deque until the
// predicate returns false.
func (d Deque[Elem]) DropFrontWhile(pred func(Elem) bool) Deque[Elem] {
	for d.left < len(d.el) {
		if !pred(d.el[d.left]) {
			break
		}
		var zero Elem
		d.el[d.left] = zero
		d.left++
	}
	if d.left >= len(d.el) {
		return d.Reset()
	}
	return d
}

// Reset removes all elements from the deque, retaining its memory.
func (d Deque[Elem]) Reset() Deque[Elem] {
	clear(d.el)
	d.el = d.el[:0]
	d.left = 0
	return d
}

// Slice returns a view into the deque's memory, oldest element first.
func (d Deque[Elem]) Slice() []Elem {
	return d.el[d.left:]
}
