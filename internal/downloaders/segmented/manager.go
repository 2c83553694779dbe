package segmented

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/omnessssssssss/gallery-dl/internal/pathfmt"
	"github.com/omnessssssssss/gallery-dl/internal/shutdown"
	"github.com/omnessssssssss/gallery-dl/internal/utils"
	"github.com/rs/zerolog"
)

// Config wires a Manager. URL, Client and PathFormat are required; a nil
// Signal gets a fresh one attached to the interrupt broadcaster.
type Config struct {
	URL          string
	Connections  int
	Client       utils.HTTPDoer
	PathFormat   *pathfmt.PathFormat
	Signal       *shutdown.Signal
	ProgressFunc func(downloaded, total int64)
}

// Manager owns one segmented download: it sizes the payload with a HEAD
// request, partitions it into a segment table, runs one worker per
// connection and assembles their part files into the final output.
type Manager struct {
	url       string
	client    utils.HTTPDoer
	paths     *pathfmt.PathFormat
	signal    *shutdown.Signal
	ownSignal bool
	workers   int
	progress  func(downloaded, total int64)
	log       zerolog.Logger

	table    *Table
	fileSize int64

	countMu    sync.Mutex
	downloaded int64
}

func NewManager(cfg Config) *Manager {
	workers := cfg.Connections
	if workers < 1 {
		workers = utils.DefaultConnections
	}
	m := &Manager{
		url:      cfg.URL,
		client:   cfg.Client,
		paths:    cfg.PathFormat,
		signal:   cfg.Signal,
		workers:  workers,
		progress: cfg.ProgressFunc,
		log:      utils.GetLogger("segmented"),
	}
	if m.signal == nil {
		m.signal = shutdown.New()
		m.ownSignal = true
	}
	return m
}

// Download runs the whole lifecycle: size, partition, download, assemble,
// finalize. On interruption it deletes the part files of completed
// segments and returns a KindCancelled error without producing output.
func (m *Manager) Download() error {
	if m.ownSignal {
		defer m.signal.Release()
	}
	if m.signal.IsSet() {
		return &Error{Kind: KindCancelled, Err: ErrInterrupted}
	}
	if err := m.fetchSize(); err != nil {
		return &Error{Kind: KindSizing, Err: err}
	}
	if err := m.paths.EnsureDirectory(); err != nil {
		return &Error{Kind: KindFilesystem, Err: err}
	}
	m.table = NewTable(m.fileSize, m.workers)
	m.log.Debug().Int64("size", m.fileSize).Int("segments", m.table.Len()).Int("connections", m.workers).Str("url", m.url).Msg("Starting segmented download")

	var wg sync.WaitGroup
	for i := range m.workers {
		wg.Add(1)
		go m.worker(i, &wg)
	}
	wg.Wait()

	if m.signal.IsSet() {
		m.log.Warn().Str("url", m.url).Msg("Download interrupted, removing completed part files")
		m.removeParts()
		return &Error{Kind: KindCancelled, Err: ErrInterrupted}
	}
	if err := m.assemble(); err != nil {
		return &Error{Kind: KindFilesystem, Err: err}
	}
	if err := m.paths.Finalize(); err != nil {
		return &Error{Kind: KindFilesystem, Err: fmt.Errorf("error finalizing output file: %v", err)}
	}
	return nil
}

// fetchSize resolves the payload size from a HEAD request. The
// Content-Length header is authoritative; anything missing or unparsable
// is fatal for the whole download.
func (m *Manager) fetchSize() error {
	req, err := http.NewRequestWithContext(m.signal.Context(), http.MethodHead, m.url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending HEAD request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return errors.New("server didn't provide Content-Length header")
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return fmt.Errorf("error parsing Content-Length header: %v", err)
	}
	if size <= 0 {
		return errors.New("invalid file size reported by server")
	}
	m.fileSize = size
	return nil
}

// addProgress advances the shared byte counter and reports it while the
// counter lock is held, so observers see a monotonic sequence. The
// callback must not call back into the Manager.
func (m *Manager) addProgress(n int64) {
	m.countMu.Lock()
	defer m.countMu.Unlock()
	m.downloaded += n
	if m.progress != nil {
		m.progress(m.downloaded, m.fileSize)
	}
}

// removeParts deletes the part files of completed segments after an
// interrupt. Files of in-flight segments were never fully written and
// are left for the clean command.
func (m *Manager) removeParts() {
	for _, seg := range m.table.Segments() {
		if seg.Status() != Completed {
			continue
		}
		partPath := m.paths.PartPath(seg.Start())
		if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
			m.log.Debug().Err(err).Str("part", partPath).Msg("Error removing part file")
		}
	}
}

// assemble concatenates part files in ascending start order into the
// temporary output path, deleting each part as it is consumed. Segments
// that never completed leave a gap: a warning identifies the range and
// assembly moves on.
func (m *Manager) assemble() error {
	if err := m.paths.EnsureDirectory(); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}
	segments := m.table.Segments()
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Start() < segments[j].Start()
	})
	destFile, err := os.Create(m.paths.TempPath())
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	defer destFile.Close()
	for _, seg := range segments {
		if seg.Status() != Completed {
			m.log.Warn().Str("segment", seg.String()).Msg("Segment incomplete, leaving gap in output")
			continue
		}
		partPath := m.paths.PartPath(seg.Start())
		partFile, err := os.Open(partPath)
		if err != nil {
			if os.IsNotExist(err) {
				m.log.Warn().Str("part", partPath).Str("segment", seg.String()).Msg("Part file missing, leaving gap in output")
				continue
			}
			return fmt.Errorf("error opening part file: %v", err)
		}
		_, err = io.Copy(destFile, partFile)
		partFile.Close()
		if err != nil {
			return fmt.Errorf("error copying part data: %v", err)
		}
		os.Remove(partPath)
	}
	return nil
}
