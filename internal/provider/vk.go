package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/task"
	"github.com/clipreach/downorch/internal/validate"
)

// VK resolves and downloads VK Video posts. It uses VK's public embed
// endpoint to get a direct MP4 URL ladder (VK exposes a small JSON blob
// keyed by resolution, e.g. "url240", "url720"), and downloads with the
// multi-range parallel downloader since VK's CDN supports byte-range
// requests.
type VK struct {
	deps Deps
}

func NewVK(deps Deps) *VK { return &VK{deps: deps} }

func (v *VK) Name() string { return "vk" }

var vkOIDIDRegex = regexp.MustCompile(`vk\.com/video(-?\d+)_(\d+)`)

type vkEmbedResponse struct {
	Title    string            `json:"title"`
	Author   string            `json:"md_author"`
	Duration int               `json:"duration"`
	Preview  string            `json:"jpg"`
	URLs     map[string]string `json:"-"`
}

func (v *VK) resolveIDs(rawURL string) (oid, id string, err error) {
	m := vkOIDIDRegex.FindStringSubmatch(rawURL)
	if len(m) < 3 {
		return "", "", apperr.NewWithMessage("vk.resolveIDs", apperr.ErrInputInvalid, "could not find oid/id in vk url")
	}
	return m[1], m[2], nil
}

// fetchEmbed calls VK's video embed JSON endpoint, which returns the
// resolution ladder as flat fields (url240, url360, url480, url720,
// url1080) alongside metadata; we parse it into a generic map first to
// pick up only the resolution keys actually present.
func (v *VK) fetchEmbed(ctx context.Context, oid, id string) (*vkEmbedResponse, map[string]string, error) {
	endpoint := fmt.Sprintf("https://vk.com/al_video.php?act=show&al=1&video=%s_%s", oid, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	if v.deps.VKSessionToken != "" {
		req.Header.Set("Cookie", "remixsid="+v.deps.VKSessionToken)
	}

	resp, err := v.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("vk embed endpoint returned status %d", resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("decode vk embed response: %w", err)
	}

	embed := &vkEmbedResponse{}
	if t, ok := raw["title"]; ok {
		_ = json.Unmarshal(t, &embed.Title)
	}
	if a, ok := raw["md_author"]; ok {
		_ = json.Unmarshal(a, &embed.Author)
	}
	if d, ok := raw["duration"]; ok {
		_ = json.Unmarshal(d, &embed.Duration)
	}
	if p, ok := raw["jpg"]; ok {
		_ = json.Unmarshal(p, &embed.Preview)
	}

	urls := make(map[string]string)
	for key, val := range raw {
		if !strings.HasPrefix(key, "url") {
			continue
		}
		var u string
		if err := json.Unmarshal(val, &u); err == nil && u != "" {
			urls[strings.TrimPrefix(key, "url")] = u
		}
	}
	if len(urls) == 0 {
		return nil, nil, fmt.Errorf("vk embed response carried no playable urls")
	}
	return embed, urls, nil
}

func (v *VK) ResolveFormats(ctx context.Context, rawURL string) (task.Media, error) {
	oid, id, err := v.resolveIDs(rawURL)
	if err != nil {
		return task.Media{}, err
	}

	embed, urls, err := v.fetchEmbed(ctx, oid, id)
	if err != nil {
		return task.Media{}, apperr.WrapWithMessage("vk.ResolveFormats", apperr.ErrProviderFailure, err.Error())
	}

	media := task.Media{
		Title:      embed.Title,
		Author:     embed.Author,
		Duration:   embed.Duration,
		PreviewURL: embed.Preview,
	}
	for res, directURL := range urls {
		media.Variants = append(media.Variants, task.Variant{
			Quality:        res + "p",
			VideoVariantID: directURL,
			AudioVariantID: directURL,
		})
	}
	return media, nil
}

// Download streams the chosen resolution via the multi-range parallel
// downloader, keyed to taskID so concurrent downloads of the same video
// by different users don't collide on the parts directory.
func (v *VK) Download(ctx context.Context, taskID string, req task.Request, media task.Media, downloadRoot string, onProgress ProgressFunc, isCanceled CancelFunc) (string, error) {
	directURL, err := v.selectVariantURL(req, media)
	if err != nil {
		return "", err
	}

	if err := ensureDir(downloadRoot + "/" + validate.Filename(media.Author)); err != nil {
		return "", apperr.Wrap("vk.Download", err)
	}
	finalPath := downloadRoot + "/" + validate.OutputPath(media.Author, taskID, media.Title, "mp4")
	partsDir := downloadRoot + "/" + taskID

	if err := multiRangeDownload(ctx, v.deps.HTTPClient, directURL, partsDir, finalPath, defaultRangeCount, onProgress, isCanceled); err != nil {
		return "", classifyDownloadErr(err)
	}

	return applyClipIfNeeded(ctx, v.deps.Pipeline, finalPath, req)
}

func (v *VK) selectVariantURL(req task.Request, media task.Media) (string, error) {
	for _, variant := range media.Variants {
		if variant.VideoVariantID == req.VideoVariantID && req.VideoVariantID != "" {
			return variant.VideoVariantID, nil
		}
	}
	if len(media.Variants) > 0 {
		return media.Variants[0].VideoVariantID, nil
	}
	return "", apperr.NewWithMessage("vk.selectVariantURL", apperr.ErrInputInvalid, "no matching variant")
}
