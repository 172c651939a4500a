package task

import "testing"

func TestNew_StartsPendingAtZeroPercent(t *testing.T) {
	tsk := New("t1", Request{URL: "https://youtube.com/watch?v=x"}, Media{Title: "clip"})

	if tsk.Status != StatusPending {
		t.Fatalf("expected status pending, got %s", tsk.Status)
	}
	if tsk.Percent != 0 {
		t.Fatalf("expected percent 0, got %v", tsk.Percent)
	}
	if tsk.CreatedAt == 0 {
		t.Fatalf("expected created_at to be set")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusPending:   false,
		StatusCompleted: true,
		StatusError:     true,
		StatusCanceled:  true,
		StatusDone:      true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Errorf("Status(%s).IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestSetProgress_NeverRollsBackPercent(t *testing.T) {
	tsk := New("t1", Request{URL: "https://vk.com/video1"}, Media{})
	tsk.SetProgress(40, 1024, 10, "downloading")
	tsk.SetProgress(20, 512, 20, "downloading")

	if tsk.Percent != 40 {
		t.Fatalf("expected percent to stay at 40, got %v", tsk.Percent)
	}
	if tsk.SpeedBPS != 512 {
		t.Fatalf("expected speed to update to latest value, got %v", tsk.SpeedBPS)
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	start := 10
	end := 25
	original := New("abc123", Request{
		URL:            "https://rutube.ru/video/xyz",
		VideoVariantID: "v720",
		AudioVariantID: "a128",
		StartSeconds:   &start,
		EndSeconds:     &end,
	}, Media{
		Title:    "clip",
		Author:   "someone",
		Duration: 120,
		Variants: []Variant{{Quality: "720p", VideoVariantID: "v720", AudioVariantID: "a128"}},
	})
	original.FilePath = "/data/someone/abc123_clip.mp4"

	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	round, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if round.ID != original.ID || round.Request.URL != original.Request.URL || round.FilePath != original.FilePath {
		t.Fatalf("round trip mismatch: got %+v, want %+v", round, original)
	}
	if round.Request.StartSeconds == nil || *round.Request.StartSeconds != start {
		t.Fatalf("expected start seconds to survive round trip")
	}
}

func TestUnmarshal_TolerantOfMissingRequest(t *testing.T) {
	legacy := []byte(`{"id":"legacy1","status":"pending","percent":0}`)

	tsk, err := Unmarshal(legacy)
	if err != nil {
		t.Fatalf("Unmarshal should tolerate a missing request: %v", err)
	}
	if tsk.CanResume() {
		t.Fatalf("legacy task without a request should not be resumable")
	}
}

func TestVariant_IsAudioOnly(t *testing.T) {
	audio := Variant{Quality: "audio", AudioVariantID: "a1"}
	if !audio.IsAudioOnly() {
		t.Fatalf("expected variant without video id to be audio-only")
	}
	video := Variant{Quality: "720p", VideoVariantID: "v1", AudioVariantID: "a1"}
	if video.IsAudioOnly() {
		t.Fatalf("expected variant with video id to not be audio-only")
	}
}
