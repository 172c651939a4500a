// Package validate provides input validation functions for URLs, task ids,
// and filenames. All public-facing inputs are validated before they reach
// the orchestrator.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/clipreach/downorch/internal/constants"
	apperr "github.com/clipreach/downorch/internal/errors"
)

// SupportedPlatforms lists the host substrings the provider registry can
// resolve a URL against. A URL whose host contains none of these is
// rejected before it ever reaches the orchestrator.
var SupportedPlatforms = []string{
	"youtube.com", "youtu.be",
	"instagram.com",
	"vk.com",
	"rutube.ru",
	"tiktok.com",
}

// filenameUnsafeChars matches characters not allowed in filenames.
var filenameUnsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// filenameWhitespace matches runs of whitespace, collapsed to a single
// underscore per the sanitization rule ("keeps alphanumerics, collapses
// whitespace to _").
var filenameWhitespace = regexp.MustCompile(`\s+`)

// taskIDPattern constrains task ids to the charset the KV gateway accepts
// as a key segment (a UUIDv4 rendering).
var taskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}$`)

// URL validates a URL and returns the parsed URL or an error.
func URL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, apperr.NewWithMessage("validate.URL", apperr.ErrInputInvalid, "url must not be empty")
	}

	rawURL = strings.TrimSpace(rawURL)

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, apperr.NewWithMessage("validate.URL", apperr.ErrInputInvalid, "url must start with http:// or https://")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperr.NewWithMessage("validate.URL", apperr.ErrInputInvalid, "malformed url")
	}

	if parsed.Host == "" {
		return nil, apperr.NewWithMessage("validate.URL", apperr.ErrInputInvalid, "url has no host")
	}

	return parsed, nil
}

// MediaURL validates a URL and checks that it belongs to a supported
// platform. Returns ErrUnsupportedPlatform for a well-formed URL whose host
// matches none of SupportedPlatforms.
func MediaURL(rawURL string) (*url.URL, error) {
	parsed, err := URL(rawURL)
	if err != nil {
		return nil, err
	}

	host := strings.ToLower(parsed.Host)
	for _, platform := range SupportedPlatforms {
		if strings.Contains(host, platform) {
			return parsed, nil
		}
	}

	return nil, apperr.NewWithMessage("validate.MediaURL", apperr.ErrUnsupportedPlatform,
		fmt.Sprintf("unsupported platform: %s", parsed.Host))
}

// TaskID validates a task id supplied by a caller (e.g. in a path segment)
// before it is used to build a KV key or a filesystem path.
func TaskID(id string) error {
	if !taskIDPattern.MatchString(id) {
		return apperr.NewWithMessage("validate.TaskID", apperr.ErrInputInvalid, "malformed task id")
	}
	return nil
}

// Filename sanitizes a filename component (an author name or a title) to be
// safe for use as a path segment.
func Filename(name string) string {
	if name == "" {
		return "untitled"
	}

	safe := filenameUnsafeChars.ReplaceAllString(name, "_")
	safe = strings.Trim(safe, " .")
	safe = filenameWhitespace.ReplaceAllString(safe, "_")

	if len(safe) > constants.MaxFilenameLength {
		safe = safe[:constants.MaxFilenameLength]
	}

	if safe == "" {
		return "untitled"
	}

	return safe
}

// OutputPath builds the `<sanitized-author>/<task-id>_<sanitized-title>.<ext>`
// relative path a completed download is stored under.
func OutputPath(author, taskID, title, ext string) string {
	return Filename(author) + "/" + taskID + "_" + Filename(title) + "." + strings.TrimPrefix(ext, ".")
}

// PositiveInt ensures an integer is positive, returning a default if not.
func PositiveInt(value, defaultValue int) int {
	if value <= 0 {
		return defaultValue
	}
	return value
}

// NonEmptyString returns the string or a default if empty.
func NonEmptyString(value, defaultValue string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	return value
}
