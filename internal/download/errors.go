package download

import (
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s returned status %d", e.URL, e.StatusCode)
}

// Transient reports whether the origin is expected to serve the file later.
// Both 404 and 423 mean "still processing" for the media hosts we pull from.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusLocked
}

// DownloadError is a fetch that failed for good, either after exhausting
// its retries or on a status that is never retried.
type DownloadError struct {
	ID       string
	URL      string
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempt(s): %v", e.ID, e.Attempts, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// QuotaExceededError rejects an entry that would push the cache past its cap.
// Existing entries are left alone.
type QuotaExceededError struct {
	ID       string
	Incoming int64
	Current  int64
	Cap      int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("download %s: %d bytes would exceed cache quota (%d of %d bytes in use)",
		e.ID, e.Incoming, e.Current, e.Cap)
}

// IntegrityError is a payload that cannot be used, such as an empty body.
type IntegrityError struct {
	ID     string
	Reason string
}

func (e *IntegrityError) Error() string {
	if e.ID == "" {
		return "integrity check failed: " + e.Reason
	}
	return fmt.Sprintf("download %s: integrity check failed: %s", e.ID, e.Reason)
}
