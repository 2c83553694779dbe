package gdlhttp

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omnessssssssss/gallery-dl/internal/downloaders/segmented"
	"github.com/omnessssssssss/gallery-dl/internal/pathfmt"
	"github.com/omnessssssssss/gallery-dl/internal/shutdown"
	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

type HTTPDownloader struct{}

func (d *HTTPDownloader) ValidateJob(job *utils.Job) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	client := utils.NewClient(job.HTTPClientConfig)
	req, err := http.NewRequest("HEAD", job.URL, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error checking URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound {
		if location := resp.Header.Get("Location"); location != "" {
			job.URL = location
		}
	} else if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("URL not found (404)")
	} else if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned error: %d", resp.StatusCode)
	}
	return nil
}

func (d *HTTPDownloader) BuildJob(job *utils.Job) error {
	if job.Connections < 1 {
		job.Connections = utils.DefaultConnections
	}
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5

	client := utils.NewClient(job.HTTPClientConfig)
	fileSize, fileName, err := getFileInfo(job.URL, client)
	if err != nil && err != utils.ErrRangeRequestsNotSupported {
		return fmt.Errorf("error getting file info: %v", err)
	}

	if job.OutputPath == "" && fileName != "" {
		job.OutputPath = fileName
	} else if job.OutputPath == "" {
		parsedURL, _ := url.Parse(job.URL)
		pathParts := strings.Split(parsedURL.Path, "/")
		job.OutputPath = pathParts[len(pathParts)-1]
		if job.OutputPath == "" {
			job.OutputPath = "download"
		}
	}

	// Check existing file
	if existingFile, statErr := os.Stat(job.OutputPath); statErr == nil {
		if fileSize > 0 && existingFile.Size() == fileSize {
			return fmt.Errorf("file already exists with same size")
		}
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}

	job.Metadata["fileSize"] = fileSize
	job.Metadata["rangeSupported"] = err != utils.ErrRangeRequestsNotSupported
	return nil
}

// Download picks between the segmented engine and a plain single
// connection stream, based on range support and whether the per
// connection share of the payload is worth splitting.
func (d *HTTPDownloader) Download(job *utils.Job) error {
	client := utils.NewClient(job.HTTPClientConfig)
	fileSize, _ := job.Metadata["fileSize"].(int64)
	rangeSupported, _ := job.Metadata["rangeSupported"].(bool)

	sig := shutdown.New()
	defer sig.Release()

	paths := pathfmt.New(job.OutputPath)
	if !job.NoPart {
		paths.EnablePart(job.PartDir)
	}

	var downloaded, total atomic.Int64
	total.Store(fileSize)
	progress := func(current, totalBytes int64) {
		downloaded.Store(current)
		if totalBytes > 0 {
			total.Store(totalBytes)
		}
	}

	progressDone := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if job.ProgressFunc != nil {
					job.ProgressFunc(downloaded.Load(), total.Load())
				}
			case <-progressDone:
				// Final update before the display settles
				if job.ProgressFunc != nil {
					job.ProgressFunc(downloaded.Load(), total.Load())
				}
				return
			}
		}
	}()

	var err error
	if !rangeSupported || job.Connections <= 1 || fileSize/int64(job.Connections) < segmented.MinSplitSize {
		err = PerformSimpleDownload(job.URL, paths, client, sig, fileSize, progress)
	} else {
		manager := segmented.NewManager(segmented.Config{
			URL:          job.URL,
			Connections:  job.Connections,
			Client:       client,
			PathFormat:   paths,
			Signal:       sig,
			ProgressFunc: progress,
		})
		err = manager.Download()
	}
	close(progressDone)
	progressWg.Wait()
	return err
}

func getFileInfo(link string, client *utils.Client) (int64, string, error) {
	req, err := http.NewRequest("HEAD", link, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	filename := ""
	filenameRegex := regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)
	if contentDisposition := resp.Header.Get("Content-Disposition"); contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				filename = filenameRegex.ReplaceAllString(fn, "_")
			} else if fn, ok := params["filename*"]; ok && fn != "" {
				if strings.HasPrefix(fn, "UTF-8''") {
					unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
					filename = filenameRegex.ReplaceAllString(unescaped, "_")
				}
			}
		}
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return 0, filename, utils.ErrRangeRequestsNotSupported
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return 0, filename, errors.New("server didn't provide Content-Length header")
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return 0, filename, err
	}
	if size <= 0 {
		return 0, filename, errors.New("invalid file size reported by server")
	}
	return size, filename, nil
}
