package segmented

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// chunkSize is how many bytes each read moves at most, which is also the
// granularity of progress reporting and cancellation checks.
const chunkSize = 8 * 1024

// worker claims pending segments until none remain, then peels work off
// in-flight segments by splitting them. It exits when neither yields a
// segment or the shutdown signal is set.
func (m *Manager) worker(id int, wg *sync.WaitGroup) {
	defer wg.Done()
	log := m.log.With().Int("worker", id).Logger()
	for !m.signal.IsSet() {
		seg := m.table.ClaimPending()
		if seg == nil {
			seg = m.table.SplitLargestInFlight()
			if seg != nil {
				log.Debug().Str("segment", seg.String()).Msg("Split new segment from in-flight range")
			}
		}
		if seg == nil {
			log.Debug().Msg("No claimable or splittable segments left")
			return
		}
		if err := m.downloadSegment(log, seg); err != nil {
			if m.signal.IsSet() {
				return
			}
			log.Debug().Err(err).Str("segment", seg.String()).Msg("Segment download failed")
			seg.setStatus(Failed)
			if rmErr := os.Remove(m.paths.PartPath(seg.Start())); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Debug().Err(rmErr).Str("segment", seg.String()).Msg("Error removing failed part file")
			}
		}
	}
}

// downloadSegment streams one segment's byte range into its part file.
// The segment may shrink while its body streams, so every read is capped
// at the current size and any overshoot a late shrink leaves behind is
// truncated away before the segment completes. An interrupt mid-stream
// returns nil with the segment still in flight.
func (m *Manager) downloadSegment(log zerolog.Logger, seg *Segment) error {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", seg.Start(), seg.End())
	req, err := http.NewRequestWithContext(m.signal.Context(), http.MethodGet, m.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", rangeHeader)
	req.Header.Set("Connection", "keep-alive")
	log.Debug().Str("range", rangeHeader).Msg("Sending range request")
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending range request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	partPath := m.paths.PartPath(seg.Start())
	partFile, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error opening part file: %v", err)
	}
	defer partFile.Close()

	buffer := make([]byte, chunkSize)
	var written int64 = 0
	for {
		remaining := seg.Size() - written
		if remaining <= 0 {
			break
		}
		limit := int64(len(buffer))
		if remaining < limit {
			limit = remaining
		}
		bytesRead, err := resp.Body.Read(buffer[:limit])
		if bytesRead > 0 {
			if _, writeErr := partFile.Write(buffer[:bytesRead]); writeErr != nil {
				return fmt.Errorf("error writing part file: %v", writeErr)
			}
			written += int64(bytesRead)
			m.addProgress(int64(bytesRead))
		}
		if m.signal.IsSet() {
			return nil
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("error reading response body: %v", err)
		}
	}

	size, err := seg.finish(written)
	if err != nil {
		return err
	}
	if written > size {
		if err := partFile.Truncate(size); err != nil {
			return fmt.Errorf("error truncating part file after split: %v", err)
		}
	}
	log.Debug().Int64("size", size).Str("segment", seg.String()).Msg("Segment completed")
	return nil
}
