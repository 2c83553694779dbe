package gdlhttp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/omnessssssssss/gallery-dl/internal/downloaders/segmented"
	"github.com/omnessssssssss/gallery-dl/internal/pathfmt"
	"github.com/omnessssssssss/gallery-dl/internal/shutdown"
	"github.com/omnessssssssss/gallery-dl/internal/utils"
)

var errInterruptedAttempt = errors.New("download interrupted")

// PerformSimpleDownload streams the whole payload over one connection
// into the temporary path, retrying failed attempts from scratch. An
// interrupt removes the partial temporary file.
func PerformSimpleDownload(url string, paths *pathfmt.PathFormat, client utils.HTTPDoer, sig *shutdown.Signal, fileSize int64, progress func(downloaded, total int64)) error {
	log := utils.GetLogger("http")
	if err := paths.EnsureDirectory(); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}
	maxRetries := 5
	var lastErr error
	for retry := range maxRetries {
		if retry > 0 {
			log.Debug().Int("attempt", retry+1).Int("maxRetries", maxRetries).Str("url", url).Msg("Retrying download")
			time.Sleep(time.Duration(retry+1) * 500 * time.Millisecond) // Backoff
		}
		err := downloadAttempt(url, paths.TempPath(), client, sig, fileSize, progress)
		if sig.IsSet() {
			os.Remove(paths.TempPath())
			return &segmented.Error{Kind: segmented.KindCancelled, Err: segmented.ErrInterrupted}
		}
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Int("attempt", retry+1).Msg("Download attempt failed")
			continue
		}
		if err := paths.Finalize(); err != nil {
			return fmt.Errorf("error finalizing output file: %v", err)
		}
		return nil
	}
	return fmt.Errorf("download failed after %d retries: %v", maxRetries, lastErr)
}

func downloadAttempt(url, tempPath string, client utils.HTTPDoer, sig *shutdown.Signal, fileSize int64, progress func(downloaded, total int64)) error {
	outFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	defer outFile.Close()

	req, err := http.NewRequestWithContext(sig.Context(), "GET", url, nil)
	if err != nil {
		return fmt.Errorf("error creating GET request: %v", err)
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error executing GET request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	total := fileSize
	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	var downloaded int64 = 0
	buffer := make([]byte, utils.DefaultBufferSize)
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			_, writeErr := outFile.Write(buffer[:bytesRead])
			if writeErr != nil {
				return fmt.Errorf("error writing to output file: %v", writeErr)
			}
			downloaded += int64(bytesRead)
			if progress != nil {
				progress(downloaded, total)
			}
		}
		if sig.IsSet() {
			return errInterruptedAttempt
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return fmt.Errorf("error reading response body: %v", readErr)
		}
	}
	outFile.Sync()
	return nil
}
