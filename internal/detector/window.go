package detector

import "github.com/dwsmith1983/tokamaksim/pkg/types"

// Window is a bounded history of the most recent snapshots. At(0) is the
// current snapshot, At(1) the one before it, and so on.
type Window struct {
	buf   []types.StateSnapshot
	start int
	n     int
}

// NewWindow returns a window holding up to capacity snapshots.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]types.StateSnapshot, capacity)}
}

// Push appends a snapshot, evicting the oldest when full.
func (w *Window) Push(s types.StateSnapshot) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

// Len returns the number of snapshots held.
func (w *Window) Len() int { return w.n }

// At returns the snapshot k steps back from the current one.
func (w *Window) At(k int) (types.StateSnapshot, bool) {
	if k < 0 || k >= w.n {
		return types.StateSnapshot{}, false
	}
	return w.buf[(w.start+w.n-1-k)%len(w.buf)], true
}

// Current returns the most recent snapshot.
func (w *Window) Current() (types.StateSnapshot, bool) { return w.At(0) }
