// Package task defines the authoritative download task record: its
// immutable header, mutable status block, and the JSON wire format shared
// by the KV store, the progress bus, and the HTTP API.
package task

import (
	"encoding/json"
	"time"
)

// Status is one of the task lifecycle states. PENDING is the only
// non-terminal status; once a task reaches a terminal status it never
// changes except COMPLETED -> DONE.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCanceled  Status = "canceled"
	StatusDone      Status = "done"
)

// IsTerminal reports whether the status is one a task never leaves, except
// for the single COMPLETED -> DONE transition handled by the delivery
// endpoint.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCanceled, StatusDone:
		return true
	default:
		return false
	}
}

// Variant is one selectable (quality, video stream id, audio stream id)
// tuple offered by a provider. An audio-only pseudo-variant carries an
// empty VideoVariantID.
type Variant struct {
	Quality        string `json:"quality"`
	VideoVariantID string `json:"videoVariantId"`
	AudioVariantID string `json:"audioVariantId"`
	Filesize       int64  `json:"filesize,omitempty"`
}

// IsAudioOnly reports whether the variant has no video stream.
func (v Variant) IsAudioOnly() bool { return v.VideoVariantID == "" }

// Media is the resolved metadata snapshot for a URL: title, author,
// duration, preview image, and the list of selectable variants.
type Media struct {
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	Duration   int       `json:"durationSeconds"`
	PreviewURL string    `json:"previewUrl"`
	Variants   []Variant `json:"variants"`
}

// Request is the original download parameters supplied by the caller. It
// is never mutated after task creation.
type Request struct {
	URL            string `json:"url"`
	VideoVariantID string `json:"videoVariantId,omitempty"`
	AudioVariantID string `json:"audioVariantId,omitempty"`
	StartSeconds   *int   `json:"startSeconds,omitempty"`
	EndSeconds     *int   `json:"endSeconds,omitempty"`
}

// IsClip reports whether the request asks for a time-clipped output.
func (r Request) IsClip() bool {
	return r.StartSeconds != nil || r.EndSeconds != nil
}

// Task is the authoritative snapshot of one download. The header fields
// (ID, Request, Media, CreatedAt) are set once at creation; Status,
// Percent, Description, SpeedBPS, ETASeconds and FilePath are the mutable
// status block, updated by the worker that owns the task while it is
// PENDING, by the orchestrator when a task is canceled or recovered on
// startup, and by the delivery endpoint for the final COMPLETED -> DONE
// transition.
type Task struct {
	ID          string  `json:"id"`
	Status      Status  `json:"status"`
	Description string  `json:"description"`
	Percent     float64 `json:"percent"`
	SpeedBPS    float64 `json:"speedBps,omitempty"`
	ETASeconds  int     `json:"etaSeconds,omitempty"`
	CreatedAt   int64   `json:"createdAt"`

	Media    Media   `json:"media"`
	Request  Request `json:"request"`
	FilePath string  `json:"filepath,omitempty"`
}

// New builds a fresh PENDING task header. percent is always 0 at creation.
func New(id string, req Request, media Media) *Task {
	return &Task{
		ID:        id,
		Status:    StatusPending,
		Percent:   0,
		CreatedAt: time.Now().Unix(),
		Media:     media,
		Request:   req,
	}
}

// CanResume reports whether the task carries enough information (a
// non-empty Request) for restart recovery to re-enqueue it. Legacy records
// deserialized without a request cannot be resumed.
func (t *Task) CanResume() bool {
	return t.Request.URL != ""
}

// Clone returns a deep-enough copy for safe mutation by a caller that does
// not own the original (e.g. a snapshot about to be published).
func (t *Task) Clone() *Task {
	cp := *t
	cp.Media.Variants = append([]Variant(nil), t.Media.Variants...)
	return &cp
}

// Marshal serializes the task to its canonical JSON wire form.
func (t *Task) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// Unmarshal deserializes a task from its canonical JSON wire form. A
// missing "request" object is tolerated (legacy records) and leaves
// Request zero-valued; CanResume will then report false.
func Unmarshal(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Snapshot is the wire-format status block: everything the Progress Bus
// publishes and the HTTP API returns for both GetStatus and the SSE
// stream, so the two paths can never drift out of sync with each other.
type Snapshot struct {
	ID          string  `json:"id"`
	Status      Status  `json:"status"`
	Description string  `json:"description"`
	Percent     float64 `json:"percent"`
	SpeedBPS    float64 `json:"speedBps,omitempty"`
	ETASeconds  int     `json:"etaSeconds,omitempty"`
	CreatedAt   int64   `json:"createdAt"`
	Media       Media   `json:"media"`
}

// Snapshot extracts the status block subscribers care about, leaving out
// Request and FilePath (caller-private and delivery-only respectively).
func (t *Task) Snapshot() Snapshot {
	return Snapshot{
		ID:          t.ID,
		Status:      t.Status,
		Description: t.Description,
		Percent:     t.Percent,
		SpeedBPS:    t.SpeedBPS,
		ETASeconds:  t.ETASeconds,
		CreatedAt:   t.CreatedAt,
		Media:       t.Media,
	}
}

// SetProgress updates the progress-only fields a worker may mutate while a
// task is PENDING. It never rolls percent backwards and never touches
// Status, so a racing writer cannot un-terminate a task.
func (t *Task) SetProgress(percent float64, speedBPS float64, etaSeconds int, description string) {
	if percent > t.Percent {
		t.Percent = percent
	}
	t.SpeedBPS = speedBPS
	t.ETASeconds = etaSeconds
	if description != "" {
		t.Description = description
	}
}
