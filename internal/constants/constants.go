// Package constants defines application-wide constants and magic strings.
// Centralizing these values improves maintainability and reduces typos.
package constants

import "time"

const (
	// DownloadTimeout is the advisory maximum time for a single download
	// job before the worker abandons it and marks it errored.
	DownloadTimeout = time.Hour

	// ProgressPublishInterval throttles how often a transfer samples its
	// byte counter into a progress callback.
	ProgressPublishInterval = 500 * time.Millisecond
)

// Queue and history settings
const (
	// DefaultWorkerCount is the default number of worker goroutines.
	DefaultWorkerCount = 3

	// DefaultHistoryLimit is the default max task ids kept per user.
	DefaultHistoryLimit = 6
)

// File and transfer sizes
const (
	// MaxFilenameLength is the maximum length for generated filenames.
	MaxFilenameLength = 200

	// DeliveryChunkSize is the minimum chunk size the delivery endpoint
	// uses when streaming a completed file to the client.
	DeliveryChunkSize = 1 << 20 // 1 MiB
)

// AnonymousUserID is the user id assigned to a caller with no user_id
// cookie set. Anonymous callers share this id for history and take no
// per-user download lock.
const AnonymousUserID = "0"
