package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseHeaderArgs(t *testing.T) {
	headers := ParseHeaderArgs([]string{
		"Accept: application/json",
		"Authorization: Bearer abc:def",
		"  X-Custom  :  spaced  ",
		"malformed-no-colon",
	})
	if len(headers) != 3 {
		t.Fatalf("parsed %d headers, want 3", len(headers))
	}
	if headers["Accept"] != "application/json" {
		t.Errorf("Accept = %q", headers["Accept"])
	}
	if headers["Authorization"] != "Bearer abc:def" {
		t.Errorf("Authorization = %q, colons after the first must survive", headers["Authorization"])
	}
	if headers["X-Custom"] != "spaced" {
		t.Errorf("X-Custom = %q, want whitespace trimmed", headers["X-Custom"])
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{1048576, "1.00 MB"},
		{5 * 1024 * 1024 * 1024, "5.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(1024, 1); got != "1.00 KB/s" {
		t.Errorf("FormatSpeed(1024, 1) = %q", got)
	}
	if got := FormatSpeed(512, 1); got != "512 B/s" {
		t.Errorf("FormatSpeed(512, 1) = %q", got)
	}
	if got := FormatSpeed(500, 0); got != "0 B/s" {
		t.Errorf("FormatSpeed(500, 0) = %q, zero elapsed must not divide", got)
	}
}

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	renewed := RenewOutputPath(path)
	if renewed != filepath.Join(dir, "file-(1).txt") {
		t.Fatalf("RenewOutputPath = %q", renewed)
	}
	if err := os.WriteFile(renewed, nil, 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if got := RenewOutputPath(path); got != filepath.Join(dir, "file-(2).txt") {
		t.Fatalf("second RenewOutputPath = %q", got)
	}

	bare := filepath.Join(dir, "data")
	if err := os.WriteFile(bare, nil, 0644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if got := RenewOutputPath(bare); got != filepath.Join(dir, "data-(1)") {
		t.Fatalf("RenewOutputPath without extension = %q", got)
	}
}

func TestReadDownloadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.yaml")
	content := `- link: https://example.com/a.bin
  op: downloads/a.bin
- link: https://example.com/b.bin
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing list: %v", err)
	}
	entries, err := ReadDownloadList(path)
	if err != nil {
		t.Fatalf("ReadDownloadList failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].URL != "https://example.com/a.bin" || entries[0].OutputPath != "downloads/a.bin" {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].OutputPath != "" {
		t.Fatalf("second entry output path = %q, want empty", entries[1].OutputPath)
	}
}

func TestReadDownloadListMissingURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.yaml")
	if err := os.WriteFile(path, []byte("- op: out.bin\n"), 0644); err != nil {
		t.Fatalf("writing list: %v", err)
	}
	if _, err := ReadDownloadList(path); err == nil {
		t.Fatal("entry without a link must be an error")
	}
}

func TestReadDownloadListMissingFile(t *testing.T) {
	if _, err := ReadDownloadList(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing list file must be an error")
	}
}

func TestCleanPartFiles(t *testing.T) {
	dir := t.TempDir()
	partDir := t.TempDir()
	outputPath := filepath.Join(dir, "out.bin")

	remove := []string{
		filepath.Join(dir, "out.bin.part"),
		filepath.Join(dir, "out.bin.part0"),
		filepath.Join(dir, "out.bin.part512"),
		filepath.Join(partDir, "out.bin.part750"),
	}
	keep := []string{
		filepath.Join(dir, "out.bin"),
		filepath.Join(dir, "out.bin.partial"),
		filepath.Join(dir, "other.bin.part3"),
	}
	for _, path := range append(append([]string{}, remove...), keep...) {
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}

	removed, err := CleanPartFiles(outputPath, partDir)
	if err != nil {
		t.Fatalf("CleanPartFiles failed: %v", err)
	}
	if removed != len(remove) {
		t.Fatalf("removed %d files, want %d", removed, len(remove))
	}
	for _, path := range remove {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still present", path)
		}
	}
	for _, path := range keep {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s was removed", path)
		}
	}
}

func TestCleanPartFilesMissingPartDir(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.bin")
	removed, err := CleanPartFiles(outputPath, filepath.Join(dir, "nonexistent"))
	if err != nil {
		t.Fatalf("missing part dir must not be an error, got %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed %d files from empty dirs", removed)
	}
}

func TestGetRandomUserAgent(t *testing.T) {
	got := GetRandomUserAgent()
	for _, ua := range userAgents {
		if got == ua {
			return
		}
	}
	t.Fatalf("returned agent %q is not in the pool", got)
}
