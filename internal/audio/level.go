package audio

// LevelStream delivers live 0..1 amplitude values during one capture.
// The stream is finite: it is closed when the capture ends and a new capture
// produces a new stream. Emission is best effort; a consumer that falls
// behind misses values rather than slowing the capture path.
type LevelStream struct {
	ch chan float64
}

func newLevelStream(capacity int) *LevelStream {
	return &LevelStream{ch: make(chan float64, capacity)}
}

// Levels returns the receive side of the stream.
func (s *LevelStream) Levels() <-chan float64 {
	return s.ch
}

// offer delivers a value without blocking, dropping it when the consumer
// is not keeping up.
func (s *LevelStream) offer(v float64) {
	select {
	case s.ch <- v:
	default:
	}
}

func (s *LevelStream) close() {
	close(s.ch)
}
