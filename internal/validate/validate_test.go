package validate_test

import (
	"testing"

	"github.com/clipreach/downorch/internal/validate"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https URL", "https://youtube.com/watch?v=123", false},
		{"valid http URL", "http://example.com", false},
		{"empty URL", "", true},
		{"no scheme", "youtube.com/watch", true},
		{"ftp scheme rejected", "ftp://example.com", true},
		{"whitespace only", "   ", true},
		{"URL with spaces trimmed", "  https://example.com  ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validate.URL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("URL(%q) error = %v, wantErr = %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestMediaURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"YouTube URL", "https://youtube.com/watch?v=123", false},
		{"YouTube short URL", "https://youtu.be/123", false},
		{"Instagram URL", "https://instagram.com/p/123", false},
		{"VK URL", "https://vk.com/video-1_2", false},
		{"RuTube URL", "https://rutube.ru/video/abc123", false},
		{"TikTok URL", "https://tiktok.com/@user/video/123", false},
		{"Unsupported platform", "https://randomsite.com/video", true},
		{"Empty URL", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validate.MediaURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("MediaURL(%q) error = %v, wantErr = %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestTaskID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid uuid-like id", "a1b2c3d4-e5f6-4789-90ab-cdef01234567", false},
		{"empty id", "", true},
		{"path traversal attempt", "../../etc/passwd", true},
		{"id with slash", "abc/def", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.TaskID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("TaskID(%q) error = %v, wantErr = %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"normal filename", "video.mp4", "video.mp4"},
		{"empty becomes untitled", "", "untitled"},
		{"removes special chars", "video<>:\"/\\|?*.mp4", "video_________.mp4"},
		{"trims spaces and dots", "  video.mp4.. ", "video.mp4"},
		{"collapses internal whitespace", "My   Great Video.mp4", "My_Great_Video.mp4"},
		{"very long filename truncated", string(make([]byte, 300)), string(make([]byte, 200))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate.Filename(tt.input)
			if tt.name == "very long filename truncated" {
				if len(result) > 200 {
					t.Errorf("Filename length = %d, want <= 200", len(result))
				}
			} else if result != tt.expected {
				t.Errorf("Filename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestOutputPath(t *testing.T) {
	got := validate.OutputPath("Some Author", "task-1", "My Clip", ".mp4")
	want := "Some_Author/task-1_My_Clip.mp4"
	if got != want {
		t.Errorf("OutputPath() = %q, want %q", got, want)
	}
}

func TestPositiveInt(t *testing.T) {
	tests := []struct {
		name         string
		value        int
		defaultValue int
		expected     int
	}{
		{"negative uses default", -5, 10, 10},
		{"zero uses default", 0, 10, 10},
		{"positive uses value", 5, 10, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validate.PositiveInt(tt.value, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("PositiveInt(%d, %d) = %d, want %d", tt.value, tt.defaultValue, result, tt.expected)
			}
		})
	}
}
