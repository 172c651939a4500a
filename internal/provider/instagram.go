package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	apperr "github.com/clipreach/downorch/internal/errors"
	"github.com/clipreach/downorch/internal/ratelimit"
	"github.com/clipreach/downorch/internal/task"
	"github.com/clipreach/downorch/internal/validate"
)

// Instagram resolves and downloads a single post (photo or reel/video) by
// scraping the public post page: a browser User-Agent GET of the canonical
// post URL, then a cascade of regex strategies (video_url JSON,
// display_url, og:image) since Instagram blocks most anonymous API access.
type Instagram struct {
	deps Deps
}

func NewInstagram(deps Deps) *Instagram { return &Instagram{deps: deps} }

func (i *Instagram) Name() string { return "instagram" }

var (
	igShortcodeRegex  = regexp.MustCompile(`instagram\.com/(?:p|reel|reels)/([A-Za-z0-9_-]+)`)
	igVideoURLRegex   = regexp.MustCompile(`"video_url"\s*:\s*"([^"]+)"`)
	igDisplayURLRegex = regexp.MustCompile(`"display_url"\s*:\s*"([^"]+)"`)
	igOGImageRegex    = regexp.MustCompile(`property="og:image"\s+content="([^"]+)"`)
	igOwnerRegex      = regexp.MustCompile(`"owner"\s*:\s*\{[^}]*?"username"\s*:\s*"([^"]+)"`)
	igDurationRegex   = regexp.MustCompile(`"video_duration"\s*:\s*([\d.]+)`)
)

func igExtractShortcode(postURL string) (string, error) {
	m := igShortcodeRegex.FindStringSubmatch(postURL)
	if len(m) < 2 {
		return "", apperr.NewWithMessage("instagram.extractShortcode", apperr.ErrInputInvalid, "no shortcode found in url")
	}
	return m[1], nil
}

func (i *Instagram) fetchPostHTML(ctx context.Context, shortcode string) (string, error) {
	canonicalURL := fmt.Sprintf("https://www.instagram.com/p/%s/", shortcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, canonicalURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if i.deps.InstagramSID != "" {
		req.Header.Set("Cookie", "sessionid="+i.deps.InstagramSID)
	}

	// Instagram rate-limits scraping far more aggressively than the other
	// providers; throttle every page fetch through the shared limiter.
	ratelimit.InstagramLimiter.Wait()

	resp, err := i.deps.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("instagram returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (i *Instagram) ResolveFormats(ctx context.Context, url string) (task.Media, error) {
	shortcode, err := igExtractShortcode(url)
	if err != nil {
		return task.Media{}, err
	}

	html, err := i.fetchPostHTML(ctx, shortcode)
	if err != nil {
		return task.Media{}, apperr.WrapWithMessage("instagram.ResolveFormats", apperr.ErrProviderFailure, err.Error())
	}

	media := task.Media{Title: shortcode}
	if m := igOwnerRegex.FindStringSubmatch(html); len(m) >= 2 {
		media.Author = m[1]
	}
	if m := igDurationRegex.FindStringSubmatch(html); len(m) >= 2 {
		var secs float64
		fmt.Sscanf(m[1], "%f", &secs)
		media.Duration = int(secs)
	}

	if m := igVideoURLRegex.FindStringSubmatch(html); len(m) >= 2 {
		videoURL := igUnescapeJSON(m[1])
		media.Variants = append(media.Variants, task.Variant{
			Quality:        "original",
			VideoVariantID: videoURL,
			AudioVariantID: videoURL,
		})
		if m := igDisplayURLRegex.FindStringSubmatch(html); len(m) >= 2 {
			media.PreviewURL = igUnescapeJSON(m[1])
		}
		return media, nil
	}

	// No video found: treat as a photo post, a still-frame "variant" the
	// adapter downloads directly (no media pipeline involvement).
	if m := igDisplayURLRegex.FindStringSubmatch(html); len(m) >= 2 {
		imageURL := igUnescapeJSON(m[1])
		media.PreviewURL = imageURL
		media.Variants = append(media.Variants, task.Variant{Quality: "photo", VideoVariantID: imageURL})
		return media, nil
	}
	if m := igOGImageRegex.FindStringSubmatch(html); len(m) >= 2 {
		imageURL := igUnescapeHTML(m[1])
		media.PreviewURL = imageURL
		media.Variants = append(media.Variants, task.Variant{Quality: "photo", VideoVariantID: imageURL})
		return media, nil
	}

	return task.Media{}, apperr.NewWithMessage("instagram.ResolveFormats", apperr.ErrProviderFailure,
		"could not extract media from post")
}

// Download treats the resolved variant's VideoVariantID as the direct CDN
// URL (Instagram's scrape yields one usable rendition, not a ladder of
// qualities) and streams it in a single connection.
func (i *Instagram) Download(ctx context.Context, taskID string, req task.Request, media task.Media, downloadRoot string, onProgress ProgressFunc, isCanceled CancelFunc) (string, error) {
	if len(media.Variants) == 0 {
		return "", apperr.NewWithMessage("instagram.Download", apperr.ErrInputInvalid, "no resolved variant to download")
	}
	variant := media.Variants[0]
	directURL := variant.VideoVariantID
	if directURL == "" {
		return "", apperr.NewWithMessage("instagram.Download", apperr.ErrInputInvalid, "resolved variant has no source url")
	}

	ext := ".mp4"
	if variant.Quality == "photo" {
		ext = ".jpg"
	}
	if err := ensureDir(downloadRoot + "/" + validate.Filename(media.Author)); err != nil {
		return "", apperr.Wrap("instagram.Download", err)
	}
	finalPath := downloadRoot + "/" + validate.OutputPath(media.Author, taskID, media.Title, strings.TrimPrefix(ext, "."))

	ratelimit.InstagramLimiter.Wait()

	if err := streamToFile(ctx, i.deps.HTTPClient, directURL, finalPath, nil, onProgress, isCanceled); err != nil {
		return "", classifyDownloadErr(err)
	}

	if ext == ".jpg" {
		return finalPath, nil
	}
	return applyClipIfNeeded(ctx, i.deps.Pipeline, finalPath, req)
}

func igUnescapeJSON(s string) string {
	s = strings.ReplaceAll(s, `\/`, `/`)
	s = strings.ReplaceAll(s, `\u0026`, `&`)
	return s
}

func igUnescapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	return s
}
