// Package mediapipeline wraps the external media tool (ffmpeg) for the
// three stream operations a completed download may need: muxing a
// separately-fetched video and audio stream, extracting audio-only output,
// and time-based clipping. It also drives HLS ingestion for providers that
// only expose an .m3u8 master playlist, parsing progress off the
// subprocess's stdout.
package mediapipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Pipeline runs ffmpeg operations against a configured binary path.
type Pipeline struct {
	FFmpegPath string
}

// New returns a Pipeline that shells out to ffmpegPath.
func New(ffmpegPath string) *Pipeline {
	return &Pipeline{FFmpegPath: ffmpegPath}
}

// Mux stream-copies a video-only and an audio-only input into a single mp4,
// truncated to the shorter of the two streams (`-shortest`).
func (p *Pipeline) Mux(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		"-shortest",
		outputPath,
	}
	return p.run(ctx, args)
}

// ToAudio extracts the audio stream from in, encoded as VBR quality-2 mp3.
func (p *Pipeline) ToAudio(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-c:a", "libmp3lame",
		"-q:a", "2",
		outputPath,
	}
	return p.run(ctx, args)
}

// Clip stream-copies in, keeping only [start, end). Either bound may be
// nil to mean "from the beginning" / "to the end".
func (p *Pipeline) Clip(ctx context.Context, inputPath, outputPath string, start, end *int) error {
	args := []string{"-y"}
	if start != nil {
		args = append(args, "-ss", strconv.Itoa(*start))
	}
	args = append(args, "-i", inputPath)
	if end != nil {
		duration := *end
		if start != nil {
			duration -= *start
		}
		if duration > 0 {
			args = append(args, "-t", strconv.Itoa(duration))
		}
	}
	args = append(args, "-c", "copy", outputPath)
	return p.run(ctx, args)
}

func (p *Pipeline) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, p.FFmpegPath, args...)
	setSysProcAttr(cmd)

	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg error: %w | stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ProgressFunc receives a percent complete in [0, 100].
type ProgressFunc func(percent float64)

// CancelFunc reports whether the caller has asked for cancellation; it is
// polled once per progress line so FetchHLS can stop promptly mid-fetch.
type CancelFunc func() bool

// FetchHLS invokes ffmpeg against an HLS rendition, writing the result to
// outputPath. audioURL may name a separate audio rendition (playlists that
// split audio into an #EXT-X-MEDIA group) to be stream-copied alongside
// the video; pass "" when the video rendition already carries audio. It
// reads ffmpeg's `-progress pipe:1` key/value stream to compute percent
// complete against the known total duration, polls cancelFn after each
// progress line, and kills the subprocess on cancellation or context
// cancellation. A non-zero exit returns an error carrying the captured
// stderr.
func (p *Pipeline) FetchHLS(ctx context.Context, videoURL, audioURL, outputPath string, duration time.Duration, headers map[string]string, onProgress ProgressFunc, cancelFn CancelFunc) error {
	headerBlock := ""
	if len(headers) > 0 {
		var sb strings.Builder
		for k, v := range headers {
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\r\n")
		}
		headerBlock = sb.String()
	}

	args := []string{"-y"}
	if headerBlock != "" {
		args = append(args, "-headers", headerBlock)
	}
	args = append(args, "-i", videoURL)
	if audioURL != "" {
		if headerBlock != "" {
			args = append(args, "-headers", headerBlock)
		}
		args = append(args, "-i", audioURL, "-map", "0:v:0", "-map", "1:a:0")
	}
	args = append(args,
		"-c", "copy",
		"-progress", "pipe:1",
		"-nostats",
		outputPath,
	)

	cmd := exec.CommandContext(ctx, p.FFmpegPath, args...)
	setSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		case <-done:
		}
	}()

	totalSeconds := duration.Seconds()
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()

		if onProgress != nil && totalSeconds > 0 {
			// ffmpeg's -progress key is named out_time_ms but carries
			// microseconds since forever; see ffmpeg-devel thread "progress
			// out_time_ms is actually us".
			if key, value, ok := strings.Cut(line, "="); ok && key == "out_time_ms" {
				if outUS, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
					percent := (outUS / 1e6) / totalSeconds * 100
					if percent > 100 {
						percent = 100
					}
					onProgress(percent)
				}
			}
		}

		if cancelFn != nil && cancelFn() {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			cmd.Wait()
			os.Remove(outputPath)
			return context.Canceled
		}
	}

	if err := cmd.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("ffmpeg hls fetch error: %w | stderr: %s", err, strings.TrimSpace(stderr.String()))
		}
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}
