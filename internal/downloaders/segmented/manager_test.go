package segmented

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omnessssssssss/gallery-dl/internal/pathfmt"
	"github.com/omnessssssssss/gallery-dl/internal/shutdown"
	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

func patternData(size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

// servePattern answers HEAD with the payload size and GET with the
// requested byte range of the pattern data.
func servePattern(data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		var start, end int64
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerDownload(t *testing.T) {
	data := patternData(1000)
	srv := httptest.NewServer(servePattern(data))
	defer srv.Close()

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.bin")
	paths := pathfmt.New(outPath)
	paths.EnablePart("")

	var reported atomic.Int64
	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 4,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  paths,
		ProgressFunc: func(downloaded, total int64) {
			reported.Store(downloaded)
		},
	})
	if err := m.Download(); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("output mismatch: got %d bytes", len(got))
	}
	if reported.Load() != 1000 {
		t.Fatalf("progress reported %d bytes, want 1000", reported.Load())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading output dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.bin" {
		t.Fatalf("leftover files in output dir: %v", entries)
	}
}

func TestManagerPartDirectory(t *testing.T) {
	data := patternData(1000)
	srv := httptest.NewServer(servePattern(data))
	defer srv.Close()

	outDir := t.TempDir()
	partDir := t.TempDir()
	outPath := filepath.Join(outDir, "out.bin")
	paths := pathfmt.New(outPath)
	paths.EnablePart(partDir)

	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 4,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  paths,
	})
	if err := m.Download(); err != nil {
		t.Fatalf("download failed: %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("output mismatch: got %d bytes", len(got))
	}
	leftovers, err := os.ReadDir(partDir)
	if err != nil {
		t.Fatalf("reading part dir: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("part dir not cleaned up: %v", leftovers)
	}
}

func TestManagerTinyFile(t *testing.T) {
	data := patternData(3)
	srv := httptest.NewServer(servePattern(data))
	defer srv.Close()

	outPath := filepath.Join(t.TempDir(), "tiny.bin")
	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 4,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  pathfmt.New(outPath),
	})
	if err := m.Download(); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("output mismatch: got %v, want %v", got, data)
	}
}

func TestManagerHeadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 4,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  pathfmt.New(filepath.Join(t.TempDir(), "out.bin")),
	})
	err := m.Download()
	if err == nil {
		t.Fatal("expected an error for failing HEAD request")
	}
	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != KindSizing {
		t.Fatalf("got error %v, want sizing failure", err)
	}
}

func TestManagerUnknownSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with no usable Content-Length
	}))
	defer srv.Close()

	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 4,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  pathfmt.New(filepath.Join(t.TempDir(), "out.bin")),
	})
	err := m.Download()
	if err == nil {
		t.Fatal("expected an error for unknown payload size")
	}
	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != KindSizing {
		t.Fatalf("got error %v, want sizing failure", err)
	}
}

func TestManagerFailedSegmentLeavesGap(t *testing.T) {
	data := patternData(1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000")
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		var start, end int64
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if start >= 750 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.bin")
	paths := pathfmt.New(outPath)
	paths.EnablePart("")

	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 4,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  paths,
	})
	if err := m.Download(); err != nil {
		t.Fatalf("download with one failed segment should still assemble, got %v", err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, data[:750]) {
		t.Fatalf("output is %d bytes, want the leading 750", len(got))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover files in output dir: %v", entries)
	}
}

func TestManagerInterrupt(t *testing.T) {
	data := patternData(1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "1000")
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		var start, end int64
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if start >= 500 {
			// Hold the request open until the client gives up
			<-r.Context().Done()
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
	defer srv.Close()

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.bin")
	paths := pathfmt.New(outPath)
	paths.EnablePart("")

	sig := shutdown.New()
	defer sig.Release()

	var reported atomic.Int64
	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 4,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  paths,
		Signal:      sig,
		ProgressFunc: func(downloaded, total int64) {
			reported.Store(downloaded)
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Download() }()

	// The two reachable segments finish; the rest hang on the server.
	waitFor(t, "fast segments to complete", func() bool {
		return reported.Load() == 500
	})
	sig.Set()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(10 * time.Second):
		t.Fatal("download did not return after interrupt")
	}
	if !IsCancelled(err) {
		t.Fatalf("got error %v, want cancellation", err)
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Fatal("interrupted download must not produce an output file")
	}
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		t.Fatalf("reading output dir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("completed part files not removed after interrupt: %v", entries)
	}
}

func TestManagerInterruptBeforeStart(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	sig := shutdown.New()
	defer sig.Release()
	sig.Set()

	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 4,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  pathfmt.New(filepath.Join(t.TempDir(), "out.bin")),
		Signal:      sig,
	})
	err := m.Download()
	if !IsCancelled(err) {
		t.Fatalf("got error %v, want cancellation", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("cancelled download contacted the server %d times", hits.Load())
	}
}

// serveGated streams the first pause bytes of each requested range, then
// blocks until the gate closes before sending the rest.
func serveGated(data []byte, pause int64, gate <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		var start, end int64
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : start+pause])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-gate
		w.Write(data[start+pause : end+1])
	}
}

func TestDownloadSegmentShrunkMidFlight(t *testing.T) {
	size := int64(4 << 20)
	data := patternData(size)
	gate := make(chan struct{})
	srv := httptest.NewServer(serveGated(data, 64<<10, gate))
	defer srv.Close()

	outPath := filepath.Join(t.TempDir(), "out.bin")
	paths := pathfmt.New(outPath)
	sig := shutdown.New()
	defer sig.Release()

	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 1,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  paths,
		Signal:      sig,
	})
	m.fileSize = size
	m.table = NewTable(size, 1)
	seg := m.table.ClaimPending()
	if seg == nil {
		t.Fatal("expected a claimable segment")
	}
	partPath := paths.PartPath(seg.Start())

	errCh := make(chan error, 1)
	go func() { errCh <- m.downloadSegment(m.log, seg) }()

	waitFor(t, "first chunk to land", func() bool {
		info, err := os.Stat(partPath)
		return err == nil && info.Size() == 64<<10
	})
	sibling := m.table.SplitLargestInFlight()
	if sibling == nil {
		t.Fatal("expected the in-flight segment to split")
	}
	close(gate)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("segment download failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("segment download did not return")
	}

	if seg.Status() != Completed {
		t.Fatalf("segment status is %s, want completed", seg.Status())
	}
	wantSize := seg.Size()
	info, err := os.Stat(partPath)
	if err != nil {
		t.Fatalf("stat part file: %v", err)
	}
	if info.Size() != wantSize {
		t.Fatalf("part file holds %d bytes, want the shrunk size %d", info.Size(), wantSize)
	}
	got, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatalf("reading part file: %v", err)
	}
	if !bytes.Equal(got, data[:wantSize]) {
		t.Fatal("part file content does not match the shrunk range")
	}
	if sibling.Start() != seg.End()+1 || sibling.End() != size-1 {
		t.Fatalf("sibling covers [%d, %d], want [%d, %d]", sibling.Start(), sibling.End(), seg.End()+1, size-1)
	}
}

func TestDownloadSegmentTruncatesOvershoot(t *testing.T) {
	size := int64(4 << 20)
	data := patternData(size)
	gate := make(chan struct{})
	srv := httptest.NewServer(serveGated(data, 3<<20, gate))
	defer srv.Close()

	outPath := filepath.Join(t.TempDir(), "out.bin")
	paths := pathfmt.New(outPath)
	sig := shutdown.New()
	defer sig.Release()

	m := NewManager(Config{
		URL:         srv.URL,
		Connections: 1,
		Client:      utils.NewClient(utils.HTTPClientConfig{}),
		PathFormat:  paths,
		Signal:      sig,
	})
	m.fileSize = size
	m.table = NewTable(size, 1)
	seg := m.table.ClaimPending()
	if seg == nil {
		t.Fatal("expected a claimable segment")
	}
	partPath := paths.PartPath(seg.Start())

	errCh := make(chan error, 1)
	go func() { errCh <- m.downloadSegment(m.log, seg) }()

	// Let the worker write past the eventual post-split size first
	waitFor(t, "three quarters to land", func() bool {
		info, err := os.Stat(partPath)
		return err == nil && info.Size() == 3<<20
	})
	if sibling := m.table.SplitLargestInFlight(); sibling == nil {
		t.Fatal("expected the in-flight segment to split")
	}
	close(gate)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("segment download failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("segment download did not return")
	}

	if seg.Status() != Completed {
		t.Fatalf("segment status is %s, want completed", seg.Status())
	}
	wantSize := seg.Size()
	if wantSize >= 3<<20 {
		t.Fatalf("segment did not shrink, size is %d", wantSize)
	}
	info, err := os.Stat(partPath)
	if err != nil {
		t.Fatalf("stat part file: %v", err)
	}
	if info.Size() != wantSize {
		t.Fatalf("part file holds %d bytes after truncation, want %d", info.Size(), wantSize)
	}
	got, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatalf("reading part file: %v", err)
	}
	if !bytes.Equal(got, data[:wantSize]) {
		t.Fatal("part file content does not match the shrunk range")
	}
}
