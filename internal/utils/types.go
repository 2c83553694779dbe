package utils

// Downloader is implemented by every download strategy the scheduler can
// dispatch to. ValidateJob checks user input, BuildJob resolves everything
// needed before bytes move (sizing, output path), Download moves the bytes.
type Downloader interface {
	Download(job *Job) error
	BuildJob(job *Job) error
	ValidateJob(job *Job) error
}

// Job carries one download request through validate, build and download.
type Job struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string
	PartDir          string
	NoPart           bool
	Connections      int
	ProgressFunc     func(downloaded, total int64)
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}

// DownloadEntry is one item of a YAML batch list.
type DownloadEntry struct {
	OutputPath string `yaml:"op"`
	URL        string `yaml:"link"`
}
