package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/task"
	"github.com/clipreach/downorch/internal/validate"
)

// TikTok resolves and downloads from tiktok.com via a third-party mirror
// API that resolves a share URL to a direct, watermark-free media URL
// (TikTok's own web API requires a signed request TikTok rotates
// frequently). Once resolved, the download is a single-connection
// streamed GET - no parallel ranges, no HLS.
type TikTok struct {
	deps        Deps
	resolverURL string
}

// NewTikTok returns an adapter against the default public resolver.
func NewTikTok(deps Deps) *TikTok {
	return &TikTok{deps: deps, resolverURL: "https://tikwm.com/api/"}
}

func (t *TikTok) Name() string { return "tiktok" }

var tiktokURLRegex = regexp.MustCompile(`tiktok\.com/(@[\w.-]+/video/\d+|v/\d+|t/\w+)`)

type tikwmResponse struct {
	Code int `json:"code"`
	Data struct {
		Title     string `json:"title"`
		Author    struct {
			Nickname string `json:"nickname"`
		} `json:"author"`
		Duration int    `json:"duration"`
		Cover    string `json:"cover"`
		Play     string `json:"play"` // watermark-free direct mp4
		Music    string `json:"music"`
	} `json:"data"`
}

func (t *TikTok) resolve(ctx context.Context, postURL string) (*tikwmResponse, error) {
	endpoint := t.resolverURL + "?url=" + postURL + "&hd=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tiktok resolver returned status %d", resp.StatusCode)
	}

	var out tikwmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tiktok resolver response: %w", err)
	}
	if out.Code != 0 || out.Data.Play == "" {
		return nil, fmt.Errorf("tiktok resolver did not return a playable url")
	}
	return &out, nil
}

func (t *TikTok) ResolveFormats(ctx context.Context, rawURL string) (task.Media, error) {
	if !tiktokURLRegex.MatchString(rawURL) {
		return task.Media{}, apperr.NewWithMessage("tiktok.ResolveFormats", apperr.ErrInputInvalid, "not a recognized tiktok video url")
	}

	resolved, err := t.resolve(ctx, rawURL)
	if err != nil {
		return task.Media{}, apperr.WrapWithMessage("tiktok.ResolveFormats", apperr.ErrProviderFailure, err.Error())
	}

	media := task.Media{
		Title:      resolved.Data.Title,
		Author:     resolved.Data.Author.Nickname,
		Duration:   resolved.Data.Duration,
		PreviewURL: resolved.Data.Cover,
		Variants: []task.Variant{
			{Quality: "hd", VideoVariantID: resolved.Data.Play, AudioVariantID: resolved.Data.Play},
		},
	}
	if resolved.Data.Music != "" {
		media.Variants = append(media.Variants, task.Variant{Quality: "audio", AudioVariantID: resolved.Data.Music})
	}
	return media, nil
}

func (t *TikTok) Download(ctx context.Context, taskID string, req task.Request, media task.Media, downloadRoot string, onProgress ProgressFunc, isCanceled CancelFunc) (string, error) {
	audioOnly := req.VideoVariantID == ""

	var directURL string
	ext := "mp4"
	for _, v := range media.Variants {
		if audioOnly && v.Quality == "audio" {
			directURL = v.AudioVariantID
			ext = "mp3"
			break
		}
		if !audioOnly && v.VideoVariantID == req.VideoVariantID {
			directURL = v.VideoVariantID
			break
		}
	}
	if directURL == "" && len(media.Variants) > 0 {
		directURL = media.Variants[0].VideoVariantID
	}
	if directURL == "" {
		return "", apperr.NewWithMessage("tiktok.Download", apperr.ErrInputInvalid, "no matching variant to download")
	}

	if err := ensureDir(downloadRoot + "/" + validate.Filename(media.Author)); err != nil {
		return "", apperr.Wrap("tiktok.Download", err)
	}
	finalPath := downloadRoot + "/" + validate.OutputPath(media.Author, taskID, media.Title, ext)

	if err := streamToFile(ctx, t.deps.HTTPClient, directURL, finalPath, nil, onProgress, isCanceled); err != nil {
		return "", classifyDownloadErr(err)
	}

	return applyClipIfNeeded(ctx, t.deps.Pipeline, finalPath, req)
}
