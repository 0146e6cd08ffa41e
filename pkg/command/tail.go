package command

import "sync"

// Tail is a writer retaining only the last bytes written to it
type Tail struct {
	mu   sync.Mutex
	max  int
	buf  []byte
	lost bool
}

// NewTail keeps at most max bytes
func NewTail(max int) *Tail {
	return &Tail{max: max, buf: make([]byte, 0, max)}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= t.max {
		t.lost = t.lost || n > t.max || len(t.buf) > 0
		t.buf = append(t.buf[:0], p[n-t.max:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.lost = true
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

// String yields the retained bytes, prefixed with an ellipsis when earlier output was dropped
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lost {
		return "..." + string(t.buf)
	}
	return string(t.buf)
}
