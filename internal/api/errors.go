package api

import (
	"errors"
	"net/http"

	"github.com/bobarin/beatcut/internal/db"
	"github.com/bobarin/beatcut/internal/download"
	"github.com/bobarin/beatcut/internal/ingest"
	"github.com/bobarin/beatcut/internal/library"
	"github.com/bobarin/beatcut/internal/slotplan"
	"github.com/bobarin/beatcut/internal/timeline"
)

// statusFor maps pipeline errors to HTTP statuses.
func statusFor(err error) int {
	var (
		cfgErr      *library.ConfigurationError
		exhausted   *slotplan.CandidateExhaustionError
		missing     *slotplan.LocalAssetMissingError
		invalid     *timeline.InvalidPlanError
		integrity   *download.IntegrityError
		quota       *download.QuotaExceededError
		downloadErr *download.DownloadError
		statusErr   *download.StatusError
	)

	switch {
	case errors.As(err, &cfgErr), errors.Is(err, library.ErrNotFound), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &exhausted), errors.As(err, &missing), errors.As(err, &invalid):
		return http.StatusUnprocessableEntity
	case errors.As(err, &integrity), errors.Is(err, ingest.ErrInvalidOwner):
		return http.StatusBadRequest
	case errors.As(err, &quota):
		return http.StatusInsufficientStorage
	case errors.As(err, &downloadErr), errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
