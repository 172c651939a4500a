package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/task"
	"github.com/clipreach/downorch/internal/validate"
)

// YouTube resolves and downloads from youtube.com / youtu.be. Metadata
// comes from YouTube's public oEmbed endpoint (title + author, no API key
// needed) plus a watch-page scrape for duration and the player response's
// stream list, pulled out of the ytInitialPlayerResponse blob embedded in
// the page.
type YouTube struct {
	deps Deps
}

// NewYouTube returns an adapter using client for both metadata scraping
// and byte transfer.
func NewYouTube(deps Deps) *YouTube { return &YouTube{deps: deps} }

func (y *YouTube) Name() string { return "youtube" }

var (
	ytPlayerResponseRegex = regexp.MustCompile(`ytInitialPlayerResponse\s*=\s*(\{.*?\});`)
	ytVideoIDRegex        = regexp.MustCompile(`(?:v=|youtu\.be/|embed/)([A-Za-z0-9_-]{6,})`)
)

type ytOEmbed struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type ytPlayerResponse struct {
	VideoDetails struct {
		Title         string `json:"title"`
		Author        string `json:"author"`
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	StreamingData struct {
		Formats         []ytFormat `json:"formats"`
		AdaptiveFormats []ytFormat `json:"adaptiveFormats"`
		HlsManifestURL  string     `json:"hlsManifestUrl"`
	} `json:"streamingData"`
}

type ytFormat struct {
	ITAG         int    `json:"itag"`
	URL          string `json:"url"`
	MimeType     string `json:"mimeType"`
	QualityLabel string `json:"qualityLabel"`
	Bitrate      int    `json:"bitrate"`
	ContentLen   string `json:"contentLength"`
}

func (f ytFormat) isAudioOnly() bool { return strings.HasPrefix(f.MimeType, "audio/") }
func (f ytFormat) isVideoOnly() bool {
	return strings.HasPrefix(f.MimeType, "video/") && !strings.Contains(f.MimeType, "audio")
}

func extractVideoID(url string) (string, error) {
	m := ytVideoIDRegex.FindStringSubmatch(url)
	if len(m) < 2 {
		return "", apperr.NewWithMessage("youtube.extractVideoID", apperr.ErrInputInvalid, "could not find a video id in url")
	}
	return m[1], nil
}

// ResolveFormats scrapes the watch page for the player response JSON and
// combines it with the oEmbed title/author.
func (y *YouTube) ResolveFormats(ctx context.Context, url string) (task.Media, error) {
	videoID, err := extractVideoID(url)
	if err != nil {
		return task.Media{}, err
	}

	oembed, err := y.fetchOEmbed(ctx, videoID)
	if err != nil {
		return task.Media{}, apperr.WrapWithMessage("youtube.ResolveFormats", apperr.ErrProviderFailure, err.Error())
	}

	player, err := y.fetchPlayerResponse(ctx, videoID)
	if err != nil {
		return task.Media{}, apperr.WrapWithMessage("youtube.ResolveFormats", apperr.ErrProviderFailure, err.Error())
	}

	duration, _ := strconv.Atoi(player.VideoDetails.LengthSeconds)

	media := task.Media{
		Title:      firstNonEmpty(player.VideoDetails.Title, oembed.Title),
		Author:     firstNonEmpty(player.VideoDetails.Author, oembed.AuthorName),
		Duration:   duration,
		PreviewURL: oembed.ThumbnailURL,
	}

	for _, f := range player.StreamingData.Formats {
		// Progressive formats already mux audio+video under one itag.
		media.Variants = append(media.Variants, task.Variant{
			Quality:        qualityLabel(f),
			VideoVariantID: strconv.Itoa(f.ITAG),
			AudioVariantID: strconv.Itoa(f.ITAG),
			Filesize:       parseInt64(f.ContentLen),
		})
	}
	// Video-only adaptive streams are paired with the highest-bitrate audio
	// stream so choosing one always yields a muxable video+audio request.
	bestAudio := ""
	bestBitrate := -1
	for _, f := range player.StreamingData.AdaptiveFormats {
		if f.isAudioOnly() && f.Bitrate > bestBitrate {
			bestAudio = strconv.Itoa(f.ITAG)
			bestBitrate = f.Bitrate
		}
	}
	for _, f := range player.StreamingData.AdaptiveFormats {
		if f.isVideoOnly() {
			media.Variants = append(media.Variants, task.Variant{
				Quality:        qualityLabel(f),
				VideoVariantID: strconv.Itoa(f.ITAG),
				AudioVariantID: bestAudio,
				Filesize:       parseInt64(f.ContentLen),
			})
		}
	}
	for _, f := range player.StreamingData.AdaptiveFormats {
		if f.isAudioOnly() {
			// Audio-only pseudo-variant: empty VideoVariantID marks it.
			media.Variants = append(media.Variants, task.Variant{
				Quality:        qualityLabel(f),
				AudioVariantID: strconv.Itoa(f.ITAG),
				Filesize:       parseInt64(f.ContentLen),
			})
		}
	}

	if len(media.Variants) == 0 {
		return task.Media{}, apperr.NewWithMessage("youtube.ResolveFormats", apperr.ErrProviderFailure, "no playable formats found")
	}

	return media, nil
}

func qualityLabel(f ytFormat) string {
	if f.QualityLabel != "" {
		return f.QualityLabel
	}
	if f.isAudioOnly() {
		return fmt.Sprintf("%dkbps", f.Bitrate/1000)
	}
	return "unknown"
}

func (y *YouTube) fetchOEmbed(ctx context.Context, videoID string) (*ytOEmbed, error) {
	endpoint := fmt.Sprintf("https://www.youtube.com/oembed?url=https://www.youtube.com/watch?v=%s&format=json", videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := y.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oembed returned status %s", resp.Status)
	}
	var out ytOEmbed
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode oembed response: %w", err)
	}
	return &out, nil
}

func (y *YouTube) fetchPlayerResponse(ctx context.Context, videoID string) (*ytPlayerResponse, error) {
	watchURL := "https://www.youtube.com/watch?v=" + videoID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := y.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, err
	}

	m := ytPlayerResponseRegex.FindSubmatch(body)
	if len(m) < 2 {
		return nil, fmt.Errorf("player response not found in watch page")
	}

	var player ytPlayerResponse
	if err := json.Unmarshal(m[1], &player); err != nil {
		return nil, fmt.Errorf("parse player response: %w", err)
	}
	return &player, nil
}

// Download fetches the chosen variant. A single itag shared between
// VideoVariantID and AudioVariantID means a progressive (already-muxed)
// format; distinct non-empty ids mean separate video+audio legs that must
// be muxed; an empty VideoVariantID means audio-only, converted to mp3.
func (y *YouTube) Download(ctx context.Context, taskID string, req task.Request, media task.Media, downloadRoot string, onProgress ProgressFunc, isCanceled CancelFunc) (string, error) {
	videoID, err := extractVideoID(req.URL)
	if err != nil {
		return "", err
	}
	player, err := y.fetchPlayerResponse(ctx, videoID)
	if err != nil {
		return "", apperr.WrapWithMessage("youtube.Download", apperr.ErrProviderFailure, err.Error())
	}

	allFormats := append(append([]ytFormat{}, player.StreamingData.Formats...), player.StreamingData.AdaptiveFormats...)
	byItag := make(map[string]ytFormat, len(allFormats))
	for _, f := range allFormats {
		byItag[strconv.Itoa(f.ITAG)] = f
	}

	author := validate.Filename(media.Author)
	basePath := downloadRoot + "/" + author
	if err := ensureDir(basePath); err != nil {
		return "", apperr.Wrap("youtube.Download", err)
	}

	audioOnly := req.VideoVariantID == ""
	ext := ".mp4"
	if audioOnly {
		ext = ".mp3"
	}
	finalPath := downloadRoot + "/" + validate.OutputPath(media.Author, taskID, media.Title, strings.TrimPrefix(ext, "."))

	if audioOnly {
		audioFmt, ok := byItag[req.AudioVariantID]
		if !ok {
			return "", apperr.NewWithMessage("youtube.Download", apperr.ErrInputInvalid, "unknown audio variant id")
		}
		tmpPath := finalPath + ".temp"
		if err := streamToFile(ctx, y.deps.HTTPClient, audioFmt.URL, tmpPath, nil, progressAdapter(onProgress), isCanceled); err != nil {
			return "", classifyDownloadErr(err)
		}
		if err := y.deps.Pipeline.ToAudio(ctx, tmpPath, finalPath); err != nil {
			removeQuiet(tmpPath)
			return "", apperr.WrapWithMessage("youtube.Download", apperr.ErrPipelineFailure, err.Error())
		}
		removeQuiet(tmpPath)
		return applyClipIfNeeded(ctx, y.deps.Pipeline, finalPath, req)
	}

	if req.VideoVariantID == req.AudioVariantID {
		// Progressive format: a single URL already carries both streams.
		fmtInfo, ok := byItag[req.VideoVariantID]
		if !ok {
			return "", apperr.NewWithMessage("youtube.Download", apperr.ErrInputInvalid, "unknown variant id")
		}
		if err := streamToFile(ctx, y.deps.HTTPClient, fmtInfo.URL, finalPath, nil, progressAdapter(onProgress), isCanceled); err != nil {
			return "", classifyDownloadErr(err)
		}
		return applyClipIfNeeded(ctx, y.deps.Pipeline, finalPath, req)
	}

	// Separate video + audio adaptive streams: fetch both, then mux.
	videoFmt, ok := byItag[req.VideoVariantID]
	if !ok {
		return "", apperr.NewWithMessage("youtube.Download", apperr.ErrInputInvalid, "unknown video variant id")
	}
	audioFmt, ok := byItag[req.AudioVariantID]
	if !ok {
		return "", apperr.NewWithMessage("youtube.Download", apperr.ErrInputInvalid, "unknown audio variant id")
	}

	videoTmp := finalPath + ".video.temp"
	audioTmp := finalPath + ".audio.temp"

	if err := streamToFile(ctx, y.deps.HTTPClient, videoFmt.URL, videoTmp, nil, halfProgress(onProgress, 0), isCanceled); err != nil {
		removeQuiet(videoTmp)
		return "", classifyDownloadErr(err)
	}
	if err := streamToFile(ctx, y.deps.HTTPClient, audioFmt.URL, audioTmp, nil, halfProgress(onProgress, 1), isCanceled); err != nil {
		removeQuiet(videoTmp)
		removeQuiet(audioTmp)
		return "", classifyDownloadErr(err)
	}

	if err := y.deps.Pipeline.Mux(ctx, videoTmp, audioTmp, finalPath); err != nil {
		removeQuiet(videoTmp)
		removeQuiet(audioTmp)
		return "", apperr.WrapWithMessage("youtube.Download", apperr.ErrPipelineFailure, err.Error())
	}
	removeQuiet(videoTmp)
	removeQuiet(audioTmp)

	return applyClipIfNeeded(ctx, y.deps.Pipeline, finalPath, req)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
