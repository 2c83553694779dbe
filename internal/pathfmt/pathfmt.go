package pathfmt

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathFormat tracks where one download lands: the target directory, the
// final filename, and the temporary path bytes are written to before the
// finished file moves into place.
type PathFormat struct {
	directory string
	filename  string
	partDir   string
	part      bool
}

func New(outputPath string) *PathFormat {
	return &PathFormat{
		directory: filepath.Dir(outputPath),
		filename:  filepath.Base(outputPath),
	}
}

// EnablePart switches the download to write through a ".part" temporary
// file, placed in partDir when one is given.
func (p *PathFormat) EnablePart(partDir string) {
	p.part = true
	p.partDir = partDir
}

func (p *PathFormat) Directory() string {
	return p.directory
}

func (p *PathFormat) Filename() string {
	return p.filename
}

func (p *PathFormat) RealPath() string {
	return filepath.Join(p.directory, p.filename)
}

// TempPath is where in-flight bytes land. Without part mode it is the
// real path itself.
func (p *PathFormat) TempPath() string {
	if !p.part {
		return p.RealPath()
	}
	dir := p.directory
	if p.partDir != "" {
		dir = p.partDir
	}
	return filepath.Join(dir, p.filename+".part")
}

// PartPath names the piece file holding the byte range that begins at
// start, e.g. "video.mp4.part1048576".
func (p *PathFormat) PartPath(start int64) string {
	return fmt.Sprintf("%s.part%d", p.TempPath(), start)
}

func (p *PathFormat) EnsureDirectory() error {
	if err := os.MkdirAll(p.directory, 0755); err != nil {
		return err
	}
	if p.part && p.partDir != "" {
		return os.MkdirAll(p.partDir, 0755)
	}
	return nil
}

// Finalize moves the temporary file into its real place. It is a no-op
// when part mode is off.
func (p *PathFormat) Finalize() error {
	temp, dst := p.TempPath(), p.RealPath()
	if temp == dst {
		return nil
	}
	return os.Rename(temp, dst)
}
