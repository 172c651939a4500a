package mediapipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg so tests never
// depend on a real binary being installed.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake ffmpeg: %v", err)
	}
	return path
}

func TestMux_SuccessCreatesOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.mp4")
	bin := fakeFFmpeg(t, `
for i in "$@"; do
  last="$i"
done
touch "$last"
exit 0
`)

	p := New(bin)
	if err := p.Mux(context.Background(), "video.mp4", "audio.m4a", out); err != nil {
		t.Fatalf("Mux failed: %v", err)
	}
}

func TestMux_NonZeroExitReturnsStderr(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "boom" >&2; exit 1`)

	p := New(bin)
	err := p.Mux(context.Background(), "video.mp4", "audio.m4a", filepath.Join(t.TempDir(), "out.mp4"))
	if err == nil {
		t.Fatal("expected an error from a non-zero ffmpeg exit")
	}
}

func TestClip_BuildsDurationFromBounds(t *testing.T) {
	// Succeeds only when ffmpeg is asked for a 30 second duration (40 - 10).
	bin := fakeFFmpeg(t, `case " $* " in *" -t 30 "*) exit 0;; esac
exit 1`)

	start, end := 10, 40
	p := New(bin)
	if err := p.Clip(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "out.mp4"), &start, &end); err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
}

func TestFetchHLS_ParsesProgressAndCompletes(t *testing.T) {
	bin := fakeFFmpeg(t, `
echo "out_time_ms=5000000"
echo "out_time_ms=10000000"
echo "progress=end"
exit 0
`)

	var percents []float64
	p := New(bin)
	err := p.FetchHLS(context.Background(), "https://example.com/video.m3u8", "",
		filepath.Join(t.TempDir(), "out.mp4"), 20*time.Second, nil,
		func(percent float64) { percents = append(percents, percent) }, nil)
	if err != nil {
		t.Fatalf("FetchHLS failed: %v", err)
	}
	if len(percents) < 2 {
		t.Fatalf("expected at least 2 progress callbacks, got %d", len(percents))
	}
	if percents[len(percents)-1] != 100 {
		t.Fatalf("expected final progress callback to report 100, got %v", percents[len(percents)-1])
	}
}

func TestFetchHLS_CancelFnStopsEarly(t *testing.T) {
	bin := fakeFFmpeg(t, `
echo "out_time_ms=1000000"
sleep 1
echo "out_time_ms=2000000"
exit 0
`)

	out := filepath.Join(t.TempDir(), "out.mp4")
	p := New(bin)
	canceled := false
	err := p.FetchHLS(context.Background(), "https://example.com/video.m3u8", "", out, 20*time.Second, nil,
		nil, func() bool {
			canceled = true
			return true
		})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !canceled {
		t.Fatal("expected cancelFn to have been polled")
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Fatal("expected partial output file to be removed on cancel")
	}
}
