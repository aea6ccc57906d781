package uart

// Ring is a fixed-capacity byte ring. The backing array is allocated once
// at construction and never grows.
type Ring struct {
	buf   []byte
	head  int // index of the oldest element
	count int
}

// NewRing allocates a ring holding up to capacity bytes.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic("uart: ring capacity must be positive")
	}
	return &Ring{buf: make([]byte, capacity)}
}

func (r *Ring) Len() int    { return r.count }
func (r *Ring) Cap() int    { return len(r.buf) }
func (r *Ring) Empty() bool { return r.count == 0 }
func (r *Ring) Full() bool  { return r.count == len(r.buf) }

// Push appends b, evicting the oldest element when full. It reports whether
// an element was evicted.
func (r *Ring) Push(b byte) (evicted bool) {
	if r.Full() {
		r.buf[r.head] = b
		r.head = (r.head + 1) % len(r.buf)
		return true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = b
	r.count++
	return false
}

// Append adds all of p, or nothing if p does not fit in the free space.
func (r *Ring) Append(p []byte) bool {
	if len(p) > len(r.buf)-r.count {
		return false
	}
	for _, b := range p {
		r.buf[(r.head+r.count)%len(r.buf)] = b
		r.count++
	}
	return true
}

// Pop removes and returns the oldest element.
func (r *Ring) Pop() (byte, bool) {
	if r.count == 0 {
		return 0, false
	}
	b := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return b, true
}

// At returns the i-th element counting from the oldest.
func (r *Ring) At(i int) byte {
	return r.buf[(r.head+i)%len(r.buf)]
}

// Equal reports whether the ring holds exactly p, oldest first.
func (r *Ring) Equal(p []byte) bool {
	if len(p) != r.count {
		return false
	}
	for i, b := range p {
		if r.At(i) != b {
			return false
		}
	}
	return true
}

// Bytes copies the contents out, oldest first.
func (r *Ring) Bytes() []byte {
	out := make([]byte, r.count)
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

func (r *Ring) Clear() {
	r.head = 0
	r.count = 0
}
