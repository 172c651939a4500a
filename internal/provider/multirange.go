package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipreach/downorch/internal/constants"
)

// defaultRangeCount is the number of parallel byte-range GETs the
// multi-range downloader issues.
const defaultRangeCount = 10

// multiRangeDownload fetches url in rangeCount parallel byte-range
// requests, writing each range to its own part file under partsDir, then
// concatenates the parts into destPath in order. A shared atomic byte
// counter feeds progress so the caller sees one smooth percentage instead
// of per-part jumps. Partial files are removed on cancel or error.
func multiRangeDownload(ctx context.Context, client *http.Client, url, partsDir, destPath string, rangeCount int, onProgress ProgressFunc, isCanceled CancelFunc) error {
	if rangeCount <= 0 {
		rangeCount = defaultRangeCount
	}

	total, err := contentLength(ctx, client, url)
	if err != nil {
		return fmt.Errorf("multirange: probe content-length: %w", err)
	}
	if total <= 0 {
		// No Content-Length / no range support: fall back to a single
		// streamed GET rather than dividing an unknown size.
		return streamToFile(ctx, client, url, destPath, nil, onProgress, isCanceled)
	}

	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		return fmt.Errorf("multirange: create parts dir: %w", err)
	}
	defer os.RemoveAll(partsDir)

	chunkSize := total / int64(rangeCount)
	if chunkSize == 0 {
		chunkSize = total
		rangeCount = 1
	}

	var (
		writtenTotal atomic.Int64
		mu           sync.Mutex
		cancelHit    atomic.Bool
	)

	estimator := newSpeedEstimator()
	progressDone := make(chan struct{})
	if onProgress != nil {
		go func() {
			ticker := time.NewTicker(constants.ProgressPublishInterval)
			defer ticker.Stop()
			for {
				select {
				case <-progressDone:
					return
				case <-ticker.C:
				}
				written := writtenTotal.Load()
				speed := estimator.Sample(written)
				percent := float64(written) / float64(total) * 100
				if percent > 100 {
					percent = 100
				}
				onProgress(percent, speed, ETASeconds(speed, written, total))
				if written >= total {
					return
				}
			}
		}()
	}
	defer close(progressDone)

	partPaths := make([]string, rangeCount)
	var wg sync.WaitGroup
	errCh := make(chan error, rangeCount)

	for i := 0; i < rangeCount; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == rangeCount-1 {
			end = total - 1
		}
		partPath := filepath.Join(partsDir, fmt.Sprintf("part_%d.tmp", i))
		partPaths[i] = partPath

		wg.Add(1)
		go func(idx int, start, end int64, partPath string) {
			defer wg.Done()

			if err := fetchRange(ctx, client, url, partPath, start, end, &mu, &writtenTotal, isCanceled); err != nil {
				if errors.Is(err, context.Canceled) {
					cancelHit.Store(true)
					return
				}
				errCh <- err
			}
		}(i, start, end, partPath)
	}

	wg.Wait()
	close(errCh)

	if cancelHit.Load() || (isCanceled != nil && isCanceled()) {
		return context.Canceled
	}
	for err := range errCh {
		if err != nil {
			return fmt.Errorf("multirange: %w", err)
		}
	}

	if err := concatParts(destPath, partPaths); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("multirange: concatenate parts: %w", err)
	}
	if onProgress != nil {
		onProgress(100, 0, 0)
	}
	return nil
}

// fetchRange downloads [start,end] of url into partPath, incrementing the
// shared byte counter under mu as bytes are written, and polling the
// cancel flag at every chunk boundary.
func fetchRange(ctx context.Context, client *http.Client, url, partPath string, start, end int64, mu *sync.Mutex, counter *atomic.Int64, isCanceled CancelFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("range request returned status %s", resp.Status)
	}

	out, err := os.Create(partPath)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 256*1024)
	for {
		if isCanceled != nil && isCanceled() {
			return context.Canceled
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			mu.Lock()
			counter.Add(int64(n))
			mu.Unlock()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// concatParts appends each part file, in order, onto destPath.
func concatParts(destPath string, partPaths []string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, p := range partPaths {
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// contentLength issues a HEAD request to learn the total size of url.
func contentLength(ctx context.Context, client *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.ContentLength, nil
}
