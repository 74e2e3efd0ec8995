package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/ipifhub"
	"github.com/soundprediction/ipifhub/pkg/server/dto"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// badRequest lists the errors caused by the submitted data.
var badRequest = []error{
	types.ErrEmptyID,
	types.ErrEmptyRepo,
	types.ErrEmptyIdentifier,
	types.ErrUnknownKind,
	types.ErrKindMismatch,
	types.ErrEmptyMembers,
	ipifhub.ErrDerivedIdentifier,
	ipifhub.ErrNilRecord,
	dto.ErrEmptyLocalID,
	dto.ErrEmptyURIs,
	dto.ErrEmptyReference,
	dto.ErrFieldTooLong,
}

// statusFor maps an error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	if errors.Is(err, types.ErrNotFound) {
		return http.StatusNotFound, "not_found"
	}
	if errors.Is(err, types.ErrInvariant) {
		return http.StatusConflict, "invariant_violation"
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest, "invalid_request"
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError writes an error response as JSON
func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.JSON(status, dto.ErrorResponse{
		Error:   code,
		Message: err.Error(),
		Code:    status,
	})
}

// writeBadRequest reports a request that could not be decoded.
func writeBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "invalid_request",
		Message: err.Error(),
		Code:    http.StatusBadRequest,
	})
}
