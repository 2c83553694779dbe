package segmented

import "sync"

// MinSplitSize is the smallest in-flight segment the table will split.
const MinSplitSize int64 = 1024 * 1024

// Table holds every segment of one download. The table mutex guards the
// segment list; each segment guards its own fields. Lock order is always
// table first, then segment.
type Table struct {
	mu       sync.Mutex
	segments []*Segment
}

// NewTable partitions fileSize bytes into up to connections segments of
// near-equal size. The remainder lands in the last segment, and positions
// past the end of small payloads produce no segment at all, so the table
// may hold fewer segments than connections.
func NewTable(fileSize int64, connections int) *Table {
	if connections < 1 {
		connections = 1
	}
	t := &Table{}
	segmentSize := fileSize / int64(connections)
	var currentPosition int64 = 0
	for i := range connections {
		startByte := currentPosition
		endByte := startByte + segmentSize - 1
		if i == connections-1 {
			endByte = fileSize - 1
		}
		if endByte >= fileSize {
			endByte = fileSize - 1
		}
		if endByte >= startByte {
			t.segments = append(t.segments, newSegment(startByte, endByte))
		}
		currentPosition = endByte + 1
	}
	return t
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.segments)
}

// Segments returns a snapshot of the segment list.
func (t *Table) Segments() []*Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// ClaimPending hands out the first pending segment in insertion order,
// flipping it to Downloading so no other worker can claim it. It returns
// nil when nothing is pending.
func (t *Table) ClaimPending() *Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, seg := range t.segments {
		seg.mu.Lock()
		if seg.status == Pending {
			seg.status = Downloading
			seg.mu.Unlock()
			return seg
		}
		seg.mu.Unlock()
	}
	return nil
}

// SplitLargestInFlight halves the largest in-flight segment and returns
// the new sibling, already Downloading and owned by the caller. The
// victim keeps the first half up to and including the midpoint byte, so
// repeated splits of the same segment are fine. It returns nil when no
// in-flight segment is strictly above MinSplitSize.
func (t *Table) SplitLargestInFlight() *Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		var victim *Segment
		var victimSize int64
		for _, seg := range t.segments {
			seg.mu.Lock()
			if seg.status == Downloading && seg.size > victimSize {
				victim, victimSize = seg, seg.size
			}
			seg.mu.Unlock()
		}
		if victim == nil || victimSize <= MinSplitSize {
			return nil
		}
		victim.mu.Lock()
		if victim.status != Downloading || victim.size <= MinSplitSize {
			// The victim moved on between the scan and the lock; rescan.
			victim.mu.Unlock()
			continue
		}
		oldEnd := victim.end
		middle := victim.start + victim.size/2
		victim.end = middle
		victim.size = middle - victim.start + 1
		victim.mu.Unlock()
		sibling := newSegment(middle+1, oldEnd)
		sibling.status = Downloading
		t.segments = append(t.segments, sibling)
		return sibling
	}
}
