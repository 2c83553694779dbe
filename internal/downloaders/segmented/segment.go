package segmented

import (
	"fmt"
	"sync"
)

// Status tracks a segment through its lifecycle. Pending segments wait to
// be claimed, Downloading segments are owned by exactly one worker, and
// Completed and Failed are terminal.
type Status int

const (
	Pending Status = iota
	Downloading
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Downloading:
		return "downloading"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Segment is one contiguous byte range of the remote payload, both ends
// inclusive. start never changes; end and size only shrink, when the
// segment is split while in flight. The mutex guards status, end and size.
type Segment struct {
	mu     sync.Mutex
	start  int64
	end    int64
	size   int64
	status Status
}

func newSegment(start, end int64) *Segment {
	return &Segment{
		start: start,
		end:   end,
		size:  end - start + 1,
	}
}

// Start is immutable and safe to read without the lock.
func (s *Segment) Start() int64 {
	return s.start
}

func (s *Segment) End() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

func (s *Segment) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Segment) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Segment) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// finish marks the segment Completed once written covers its current
// size, and returns that size so the caller can truncate any overshoot a
// late split left in the part file. Completed segments can no longer be
// split, so the size is final. A short write leaves the status untouched
// and returns an error instead.
func (s *Segment) finish(written int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if written < s.size {
		return s.size, fmt.Errorf("segment short by %d bytes", s.size-written)
	}
	s.status = Completed
	return s.size, nil
}

func (s *Segment) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%d-%d (%s)", s.start, s.end, s.status)
}
