package provider

import (
	"net/url"
	"testing"
)

const sampleMasterPlaylist = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="rus",DEFAULT=YES,URI="audio/rus/index.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="eng",DEFAULT=NO,URI="audio/eng/index.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=300000,AVERAGE-BANDWIDTH=250000,RESOLUTION=256x144,AUDIO="audio"
video/144/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=1280x720,AUDIO="audio"
video/720/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1920x1080
https://cdn.example.com/video/1080/index.m3u8
`

func TestParseMasterPlaylist(t *testing.T) {
	base, _ := url.Parse("https://balancer.example.com/path/master.m3u8")
	streams := parseMasterPlaylist(sampleMasterPlaylist, base)

	if len(streams) != 3 {
		t.Fatalf("expected 3 renditions, got %d: %v", len(streams), streams)
	}

	low, ok := streams["144"]
	if !ok {
		t.Fatalf("expected a 144p rendition, got %v", streams)
	}
	if low.videoURL != "https://balancer.example.com/path/video/144/index.m3u8" {
		t.Fatalf("relative video uri not resolved: %q", low.videoURL)
	}
	if low.audioURL != "https://balancer.example.com/path/audio/rus/index.m3u8" {
		t.Fatalf("expected the DEFAULT audio rendition, got %q", low.audioURL)
	}
	if low.bandwidth != 250000 {
		t.Fatalf("expected AVERAGE-BANDWIDTH preferred, got %d", low.bandwidth)
	}

	high, ok := streams["1080"]
	if !ok {
		t.Fatalf("expected a 1080p rendition, got %v", streams)
	}
	if high.videoURL != "https://cdn.example.com/video/1080/index.m3u8" {
		t.Fatalf("absolute video uri mangled: %q", high.videoURL)
	}
	if high.audioURL != "" {
		t.Fatalf("expected no audio group on the 1080p rendition, got %q", high.audioURL)
	}
	if high.bandwidth != 3000000 {
		t.Fatalf("expected BANDWIDTH fallback, got %d", high.bandwidth)
	}
}

func TestSortedHeightsAscending(t *testing.T) {
	streams := map[string]rutubeStream{
		"720": {}, "144": {}, "1080": {}, "240": {},
	}
	got := sortedHeights(streams)
	want := []string{"144", "240", "720", "1080"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
