package httpx

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// statusForCode maps application error codes to HTTP status codes.
// Unknown codes fall through to 500.
func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict, apperrors.ErrCodeInvalidTransition:
		return http.StatusConflict
	case apperrors.ErrCodeExpired:
		return http.StatusGone
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.ErrCodeTransientProvider, apperrors.ErrCodePermanentProvider:
		return http.StatusBadGateway
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError renders an application error as a JSON response, mapping the
// error code to an HTTP status. Errors without a code render as 500 with a
// generic message so internals never leak to clients.
func WriteAppError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		WriteError(w, ErrorParams{
			Code:    http.StatusGatewayTimeout,
			ErrCode: string(apperrors.ErrCodeTimeout),
			Err:     errors.New("request timed out"),
		})
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		WriteError(w, ErrorParams{
			Code:    statusForCode(appErr.Code),
			ErrCode: string(appErr.Code),
			Err:     errors.New(appErr.Message),
		})
		return
	}

	WriteError(w, ErrorParams{
		Code:    http.StatusInternalServerError,
		ErrCode: string(apperrors.ErrCodeInternal),
		Err:     errors.New("internal error"),
	})
}
