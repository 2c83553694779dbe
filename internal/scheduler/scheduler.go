package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	gdlhttp "github.com/omnessssssssss/gallery-dl/internal/downloaders/http"
	"github.com/omnessssssssss/gallery-dl/internal/downloaders/segmented"
	"github.com/omnessssssssss/gallery-dl/internal/output"
	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

// downloaderRegistry maps job types to their respective downloader implementations
var downloaderRegistry = map[string]utils.Downloader{
	"http": &gdlhttp.HTTPDownloader{},
}

// Run drains jobs through numWorkers parallel downloads behind a live
// display. It returns an error when any job failed.
func Run(jobs []utils.Job, numWorkers int) error {
	if len(jobs) == 0 {
		return nil
	}
	if numWorkers < 1 {
		numWorkers = utils.DefaultParallelJobs
	}
	outputMgr := output.NewManager()
	outputMgr.StartDisplay()

	jobCh := make(chan utils.Job, len(jobs))
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)

	var failed atomic.Int64
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				if !processJob(&job, outputMgr) {
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	outputMgr.StopDisplay()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d downloads failed", n, len(jobs))
	}
	return nil
}

// processJob walks one job through validate, build and download,
// reporting every transition to the display.
func processJob(job *utils.Job, outputMgr *output.Manager) bool {
	log := utils.GetLogger("scheduler")
	job.ID = uuid.New().String()
	displayName := job.OutputPath
	if displayName == "" {
		displayName = job.URL
	}
	funcID := outputMgr.Register(displayName)

	downloader, exists := downloaderRegistry[job.JobType]
	if !exists {
		outputMgr.ReportError(funcID, fmt.Errorf("unknown job type: %s", job.JobType))
		return false
	}
	log.Debug().Str("jobId", job.ID).Str("type", job.JobType).Str("url", job.URL).Msg("Starting job")

	outputMgr.SetMessage(funcID, fmt.Sprintf("Validating %s", job.URL))
	if err := downloader.ValidateJob(job); err != nil {
		outputMgr.ReportError(funcID, fmt.Errorf("validation failed: %v", err))
		return false
	}

	outputMgr.SetMessage(funcID, fmt.Sprintf("Preparing %s", job.URL))
	if err := downloader.BuildJob(job); err != nil {
		outputMgr.ReportError(funcID, fmt.Errorf("build failed: %v", err))
		return false
	}

	// BuildJob may have inferred the output path
	outputMgr.SetMessage(funcID, fmt.Sprintf("Downloading %s", job.OutputPath))
	job.ProgressFunc = func(downloaded, total int64) {
		outputMgr.SetProgress(funcID, downloaded, total)
	}
	if err := downloader.Download(job); err != nil {
		if segmented.IsCancelled(err) {
			outputMgr.ReportWarning(funcID, fmt.Sprintf("Interrupted %s", job.OutputPath))
			log.Warn().Str("jobId", job.ID).Msg("Job interrupted")
			return false
		}
		outputMgr.ReportError(funcID, fmt.Errorf("download failed: %v", err))
		return false
	}

	outputMgr.Complete(funcID, fmt.Sprintf("Completed %s", job.OutputPath))
	return true
}
