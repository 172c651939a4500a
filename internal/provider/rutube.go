package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/task"
	"github.com/clipreach/downorch/internal/validate"
)

// RuTube resolves and downloads from rutube.ru. RuTube's public API exposes
// an HLS master playlist rather than progressive MP4 files; the master's
// #EXT-X-STREAM-INF entries are parsed into a per-resolution ladder so the
// caller gets a real quality choice, and Download shells out through the
// media pipeline's FetchHLS with the chosen rendition's video (and, when
// the playlist declares a separate audio group, audio) URL.
type RuTube struct {
	deps Deps
}

func NewRuTube(deps Deps) *RuTube { return &RuTube{deps: deps} }

func (r *RuTube) Name() string { return "rutube" }

var rutubeVideoIDRegex = regexp.MustCompile(`rutube\.ru/(?:video|play/embed|play/private|embed)/([a-zA-Z0-9-]+)`)

// assumedAudioBPS is the bitrate assumed for a separate audio rendition
// when estimating variant filesizes; RuTube does not advertise one.
const assumedAudioBPS = 128000

type rutubeAPIResponse struct {
	Title  string `json:"title"`
	Author struct {
		Name string `json:"name"`
	} `json:"author"`
	Duration      int    `json:"duration"`
	Thumbnail     string `json:"thumbnail_url"`
	VideoBalancer struct {
		Default string `json:"default"`
		M3U8    string `json:"m3u8"`
	} `json:"video_balancer"`
}

func rutubeExtractID(rawURL string) (string, error) {
	m := rutubeVideoIDRegex.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return "", apperr.NewWithMessage("rutube.extractID", apperr.ErrInputInvalid, "could not find video id in url")
	}
	return m[1], nil
}

func (r *RuTube) fetchAPI(ctx context.Context, videoID string) (*rutubeAPIResponse, error) {
	endpoint := fmt.Sprintf("https://rutube.ru/api/video/%s/?format=json", videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	resp, err := r.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rutube api returned status %d", resp.StatusCode)
	}
	var out rutubeAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rutube api response: %w", err)
	}
	return &out, nil
}

func (a *rutubeAPIResponse) masterURL() string {
	if a.VideoBalancer.M3U8 != "" {
		return a.VideoBalancer.M3U8
	}
	return a.VideoBalancer.Default
}

// rutubeStream is one rendition from the master playlist: its video URL,
// the resolved audio-group URL when the stream declares one, and the
// advertised bandwidth used for filesize estimates.
type rutubeStream struct {
	height    string
	videoURL  string
	audioURL  string
	bandwidth int64
}

var (
	rutubeResolutionRegex = regexp.MustCompile(`RESOLUTION=\d+x(\d+)`)
	rutubeAudioGroupRegex = regexp.MustCompile(`AUDIO="([^"]+)"`)
	rutubeAvgBWRegex      = regexp.MustCompile(`AVERAGE-BANDWIDTH=(\d+)`)
	rutubeBWRegex         = regexp.MustCompile(`BANDWIDTH=(\d+)`)
	rutubeMediaAttrRegex  = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^,]*)`)
)

// parseMasterPlaylist reads the master m3u8 text into a height-keyed
// rendition map. #EXT-X-MEDIA TYPE=AUDIO entries are collected first
// (preferring DEFAULT=YES per group), then each #EXT-X-STREAM-INF line is
// paired with the URI on the following line; relative URIs resolve against
// the playlist's own URL.
func parseMasterPlaylist(text string, base *url.URL) map[string]rutubeStream {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	audioDefault := make(map[string]string)
	audioAny := make(map[string]string)
	for _, line := range lines {
		if !strings.HasPrefix(line, "#EXT-X-MEDIA") || !strings.Contains(line, "TYPE=AUDIO") {
			continue
		}
		attrs := make(map[string]string)
		for _, m := range rutubeMediaAttrRegex.FindAllStringSubmatch(line, -1) {
			attrs[m[1]] = strings.Trim(m[2], `"`)
		}
		groupID, uri := attrs["GROUP-ID"], attrs["URI"]
		if groupID == "" || uri == "" {
			continue
		}
		full := resolvePlaylistRef(base, uri)
		if attrs["DEFAULT"] == "YES" {
			audioDefault[groupID] = full
		} else if _, ok := audioAny[groupID]; !ok {
			audioAny[groupID] = full
		}
	}

	streams := make(map[string]rutubeStream)
	for i, line := range lines {
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF") || i+1 >= len(lines) {
			continue
		}
		st := rutubeStream{videoURL: resolvePlaylistRef(base, lines[i+1])}
		if m := rutubeResolutionRegex.FindStringSubmatch(line); len(m) == 2 {
			st.height = m[1]
		}
		if m := rutubeAudioGroupRegex.FindStringSubmatch(line); len(m) == 2 {
			if u, ok := audioDefault[m[1]]; ok {
				st.audioURL = u
			} else {
				st.audioURL = audioAny[m[1]]
			}
		}
		if m := rutubeAvgBWRegex.FindStringSubmatch(line); len(m) == 2 {
			st.bandwidth, _ = strconv.ParseInt(m[1], 10, 64)
		} else if m := rutubeBWRegex.FindStringSubmatch(line); len(m) == 2 {
			st.bandwidth, _ = strconv.ParseInt(m[1], 10, 64)
		}
		key := st.height
		if key == "" {
			key = strconv.Itoa(len(streams))
		}
		streams[key] = st
	}
	return streams
}

func resolvePlaylistRef(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func (r *RuTube) fetchMasterPlaylist(ctx context.Context, masterURL, referer string) (map[string]rutubeStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, masterURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Referer", referer)

	resp, err := r.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rutube master playlist returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, err
	}

	// Resolve relative rendition URIs against the final (post-redirect) URL.
	base := resp.Request.URL
	streams := parseMasterPlaylist(string(body), base)
	if len(streams) == 0 {
		return nil, fmt.Errorf("no renditions found in master playlist")
	}
	return streams, nil
}

// sortedHeights returns the rendition keys in ascending numeric order.
func sortedHeights(streams map[string]rutubeStream) []string {
	heights := make([]string, 0, len(streams))
	for h := range streams {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool {
		a, _ := strconv.Atoi(heights[i])
		b, _ := strconv.Atoi(heights[j])
		return a < b
	})
	return heights
}

// ResolveFormats fetches the video metadata and the master playlist,
// exposing one variant per resolution (the rendition height doubles as the
// variant id) plus an audio-only pseudo-variant on the lowest rendition.
func (r *RuTube) ResolveFormats(ctx context.Context, rawURL string) (task.Media, error) {
	videoID, err := rutubeExtractID(rawURL)
	if err != nil {
		return task.Media{}, err
	}
	info, err := r.fetchAPI(ctx, videoID)
	if err != nil {
		return task.Media{}, apperr.WrapWithMessage("rutube.ResolveFormats", apperr.ErrProviderFailure, err.Error())
	}

	masterURL := info.masterURL()
	if masterURL == "" {
		return task.Media{}, apperr.NewWithMessage("rutube.ResolveFormats", apperr.ErrProviderFailure, "no hls manifest in response")
	}

	streams, err := r.fetchMasterPlaylist(ctx, masterURL, rawURL)
	if err != nil {
		return task.Media{}, apperr.WrapWithMessage("rutube.ResolveFormats", apperr.ErrProviderFailure, err.Error())
	}

	media := task.Media{
		Title:      info.Title,
		Author:     info.Author.Name,
		Duration:   info.Duration,
		PreviewURL: info.Thumbnail,
	}

	heights := sortedHeights(streams)
	for _, h := range heights {
		st := streams[h]
		var size int64
		if info.Duration > 0 && st.bandwidth > 0 {
			totalBPS := st.bandwidth
			if st.audioURL != "" {
				totalBPS += assumedAudioBPS
			}
			size = totalBPS / 8 * int64(info.Duration)
		}
		media.Variants = append(media.Variants, task.Variant{
			Quality:        h + "p",
			VideoVariantID: h,
			AudioVariantID: h,
			Filesize:       size,
		})
	}

	minHeight := heights[0]
	var audioSize int64
	if info.Duration > 0 {
		audioSize = assumedAudioBPS / 8 * int64(info.Duration)
	}
	media.Variants = append(media.Variants, task.Variant{
		Quality:        "audio",
		AudioVariantID: minHeight,
		Filesize:       audioSize,
	})

	return media, nil
}

// Download re-resolves the master playlist (rendition URLs are short-lived)
// and feeds the chosen rendition to the media pipeline. An unknown variant
// id falls back to the lowest rendition for audio-only requests and the
// highest otherwise.
func (r *RuTube) Download(ctx context.Context, taskID string, req task.Request, media task.Media, downloadRoot string, onProgress ProgressFunc, isCanceled CancelFunc) (string, error) {
	videoID, err := rutubeExtractID(req.URL)
	if err != nil {
		return "", err
	}
	info, err := r.fetchAPI(ctx, videoID)
	if err != nil {
		return "", apperr.WrapWithMessage("rutube.Download", apperr.ErrProviderFailure, err.Error())
	}
	masterURL := info.masterURL()
	if masterURL == "" {
		return "", apperr.NewWithMessage("rutube.Download", apperr.ErrProviderFailure, "no hls manifest in response")
	}
	streams, err := r.fetchMasterPlaylist(ctx, masterURL, req.URL)
	if err != nil {
		return "", apperr.WrapWithMessage("rutube.Download", apperr.ErrProviderFailure, err.Error())
	}

	audioOnly := req.VideoVariantID == ""
	chosen := req.VideoVariantID
	if audioOnly {
		chosen = req.AudioVariantID
	}
	st, ok := streams[chosen]
	if !ok {
		heights := sortedHeights(streams)
		if audioOnly {
			st = streams[heights[0]]
		} else {
			st = streams[heights[len(heights)-1]]
		}
	}

	ext := "mp4"
	if audioOnly {
		ext = "mp3"
	}
	if err := ensureDir(downloadRoot + "/" + validate.Filename(media.Author)); err != nil {
		return "", apperr.Wrap("rutube.Download", err)
	}
	finalPath := downloadRoot + "/" + validate.OutputPath(media.Author, taskID, media.Title, ext)

	duration := time.Duration(media.Duration) * time.Second
	headers := map[string]string{"Referer": req.URL}
	hlsProgress := func(percent float64) {
		if onProgress != nil {
			onProgress(percent, 0, 0)
		}
	}
	hlsCancel := func() bool {
		return isCanceled != nil && isCanceled()
	}

	if audioOnly {
		src := st.audioURL
		if src == "" {
			src = st.videoURL
		}
		tmpPath := finalPath + ".temp.mp4"
		if err := r.deps.Pipeline.FetchHLS(ctx, src, "", tmpPath, duration, headers, hlsProgress, hlsCancel); err != nil {
			return "", classifyHLSErr(err)
		}
		if err := r.deps.Pipeline.ToAudio(ctx, tmpPath, finalPath); err != nil {
			removeQuiet(tmpPath)
			return "", apperr.WrapWithMessage("rutube.Download", apperr.ErrPipelineFailure, err.Error())
		}
		removeQuiet(tmpPath)
		return finalPath, nil
	}

	if err := r.deps.Pipeline.FetchHLS(ctx, st.videoURL, st.audioURL, finalPath, duration, headers, hlsProgress, hlsCancel); err != nil {
		return "", classifyHLSErr(err)
	}

	return applyClipIfNeeded(ctx, r.deps.Pipeline, finalPath, req)
}

func classifyHLSErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return apperr.ErrCanceled
	}
	return apperr.WrapWithMessage("rutube.Download", apperr.ErrPipelineFailure, err.Error())
}
