package model

// Progress is one step of a running download.
type Progress struct {
	// Fraction grows monotonically from 0 to exactly 1.0 on success.
	Fraction float64
	Received int64
	// Total is -1 when the remote does not announce a length.
	Total int64
}

// ProgressStream delivers download progress. Updates close when the
// download ends; Err reports the outcome and is valid only after that.
type ProgressStream struct {
	updates chan Progress
	err     error
	last    float64
}

func newProgressStream(capacity int) *ProgressStream {
	return &ProgressStream{updates: make(chan Progress, capacity)}
}

// Updates returns the receive side of the stream.
func (s *ProgressStream) Updates() <-chan Progress {
	return s.updates
}

// Err returns the terminal error, nil on success. Only meaningful once
// Updates has been closed.
func (s *ProgressStream) Err() error {
	return s.err
}

// Wait drains the stream and returns its outcome.
func (s *ProgressStream) Wait() error {
	for range s.updates {
	}
	return s.err
}

// emit publishes a progress step without blocking the download. Fractions
// are clamped so consumers never observe a decrease; a slow consumer loses
// intermediate steps, not ordering.
func (s *ProgressStream) emit(p Progress) {
	if p.Fraction < s.last {
		p.Fraction = s.last
	}
	if p.Fraction > 1 {
		p.Fraction = 1
	}
	s.last = p.Fraction

	select {
	case s.updates <- p:
	default:
	}
}

// finish delivers the terminal step even to a full buffer by evicting the
// oldest pending value, then ends the stream.
func (s *ProgressStream) finish(p Progress, err error) {
	if err == nil {
		p.Fraction = 1
		s.last = 1
		for sent := false; !sent; {
			select {
			case s.updates <- p:
				sent = true
			default:
				// make room by dropping the oldest pending step
				select {
				case <-s.updates:
				default:
				}
			}
		}
	}
	s.err = err
	close(s.updates)
}
