package audiosocket

// Framer accumulates stream bytes and yields whole frames. A frame split
// across reads stays buffered until the rest arrives. Not safe for concurrent
// use; each connection owns one.
type Framer struct {
	buf []byte
}

// Write appends bytes read from the connection.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame, or ErrIncomplete when the residual
// buffer holds only part of one.
func (f *Framer) Next() (Frame, error) {
	frame, n, err := Decode(f.buf)
	if err != nil {
		return Frame{}, err
	}
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
	return frame, nil
}

// Buffered reports how many bytes are waiting for the rest of a frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset drops any buffered bytes.
func (f *Framer) Reset() { f.buf = f.buf[:0] }
