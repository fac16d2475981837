package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/leadagent/pkg/models"
	"github.com/choraleia/leadagent/pkg/service"
)

const (
	codeInternal     models.ErrorCode = "INTERNAL_ERROR"
	genericRetryText                  = "Something went wrong on our side. Please try again in a moment."
)

// StatusFor maps an error code to its HTTP status.
func StatusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeValidation:
		return http.StatusBadRequest
	case models.CodeSessionNotFound:
		return http.StatusNotFound
	case models.CodeSessionClosed:
		return http.StatusConflict
	case models.CodeSTTFailure:
		return http.StatusUnprocessableEntity
	case models.CodeModelUnavailable, models.CodeStorageUnavailable, models.CodeTTSFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody builds the error payload for err. A failed turn carries the
// committed lead info so the frontend keeps what was already collected.
func ErrorBody(sessionID string, err error) (int, models.ErrorResponse) {
	body := models.ErrorResponse{Type: models.ResponseTypeError, SessionID: sessionID}

	var failure *service.TurnFailure
	if errors.As(err, &failure) {
		lead := failure.LeadInfo
		body.LeadInfo = &lead
		body.Message = failure.Message
	}

	code := models.CodeOf(err)
	switch {
	case code != "":
		body.Code = code
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		body.Code = models.CodeStorageUnavailable
	default:
		body.Code = codeInternal
	}

	if body.Message == "" {
		body.Message = userMessage(body.Code, err)
	}
	return StatusFor(body.Code), body
}

func userMessage(code models.ErrorCode, err error) string {
	switch code {
	case models.CodeSTTFailure:
		return service.STTRetryMessage
	case models.CodeModelUnavailable:
		return service.FallbackReply
	case models.CodeSessionNotFound:
		return "Session not found. Start a new conversation."
	case models.CodeSessionClosed:
		return "This conversation has ended. Start it again to continue."
	case models.CodeValidation:
		var coded *models.Error
		if errors.As(err, &coded) && coded.Message != "" {
			return coded.Message
		}
		return "Invalid request."
	default:
		return genericRetryText
	}
}

func writeError(c *gin.Context, sessionID string, err error) {
	status, body := ErrorBody(sessionID, err)
	c.JSON(status, body)
}

func validationError(message string) error {
	return models.NewError(models.CodeValidation, message, nil)
}
