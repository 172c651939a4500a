package provider_test

import (
	"context"
	"testing"

	"github.com/clipreach/downorch/internal/provider"
	"github.com/clipreach/downorch/internal/task"
)

// fakeAdapter is a minimal provider.Adapter used only to exercise Registry
// lookup semantics; its methods are never called in these tests.
type fakeAdapter struct{ name string }

func (f fakeAdapter) Name() string { return f.name }

func (f fakeAdapter) ResolveFormats(_ context.Context, _ string) (task.Media, error) {
	return task.Media{}, nil
}

func (f fakeAdapter) Download(_ context.Context, _ string, _ task.Request, _ task.Media, _ string, _ provider.ProgressFunc, _ provider.CancelFunc) (string, error) {
	return "", nil
}

func TestRegistry_LookupFirstMatchWins(t *testing.T) {
	r := provider.NewRegistry()
	yt := fakeAdapter{name: "youtube"}
	ig := fakeAdapter{name: "instagram"}
	r.Register("youtube.com", yt)
	r.Register("instagram.com", ig)

	got, ok := r.Lookup("https://www.youtube.com/watch?v=abc")
	if !ok || got.Name() != "youtube" {
		t.Fatalf("expected youtube adapter, got %v ok=%v", got, ok)
	}

	got, ok = r.Lookup("https://instagram.com/p/xyz")
	if !ok || got.Name() != "instagram" {
		t.Fatalf("expected instagram adapter, got %v ok=%v", got, ok)
	}

	_, ok = r.Lookup("https://example.com/video")
	if ok {
		t.Fatalf("expected no match for unsupported host")
	}
}

func TestRegistry_CaseInsensitiveMatch(t *testing.T) {
	r := provider.NewRegistry()
	r.Register("youtube.com", fakeAdapter{name: "youtube"})

	if _, ok := r.Lookup("HTTPS://WWW.YOUTUBE.COM/watch?v=ABC"); !ok {
		t.Fatalf("expected case-insensitive match")
	}
}

func TestRegistry_RegistrationOrderIsPriority(t *testing.T) {
	r := provider.NewRegistry()
	// Two adapters whose substrings both appear in the same URL; the
	// first registered must win.
	r.Register("tiktok.com", fakeAdapter{name: "first"})
	r.Register("com", fakeAdapter{name: "second"})

	got, ok := r.Lookup("https://www.tiktok.com/@user/video/123")
	if !ok || got.Name() != "first" {
		t.Fatalf("expected first-registered adapter to win, got %v", got)
	}
}

func TestETASeconds(t *testing.T) {
	tests := []struct {
		name      string
		speedBPS  float64
		bytesDone int64
		total     int64
		wantZero  bool
	}{
		{"zero speed", 0, 0, 1000, true},
		{"unknown total", 100, 0, 0, true},
		{"already done", 100, 1000, 1000, true},
		{"normal case", 100, 0, 1000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := provider.ETASeconds(tt.speedBPS, tt.bytesDone, tt.total)
			if tt.wantZero && got != 0 {
				t.Errorf("ETASeconds() = %d, want 0", got)
			}
			if !tt.wantZero && got <= 0 {
				t.Errorf("ETASeconds() = %d, want > 0", got)
			}
		})
	}
}
