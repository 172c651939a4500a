package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// streamToFile performs a single-connection GET against url, writing the
// body to destPath in chunks, sampling progress after every chunk. It is
// the transfer primitive behind the TikTok adapter's direct-url fetch and
// behind any provider's audio/video leg that doesn't need byte-range
// parallelism.
func streamToFile(ctx context.Context, client *http.Client, url, destPath string, headers map[string]string, onProgress ProgressFunc, isCanceled CancelFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	total := resp.ContentLength
	var written int64
	estimator := newSpeedEstimator()
	buf := make([]byte, 256*1024)

	for {
		if isCanceled != nil && isCanceled() {
			out.Close()
			os.Remove(destPath)
			return context.Canceled
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write %s: %w", destPath, werr)
			}
			written += int64(n)

			if onProgress != nil {
				speed := estimator.Sample(written)
				percent := 0.0
				if total > 0 {
					percent = float64(written) / float64(total) * 100
					if percent > 100 {
						percent = 100
					}
				}
				onProgress(percent, speed, ETASeconds(speed, written, total))
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read body from %s: %w", url, readErr)
		}
	}

	if onProgress != nil {
		onProgress(100, 0, 0)
	}
	return nil
}
