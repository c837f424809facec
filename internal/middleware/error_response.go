package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/clinicman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。ガードの判定ではリダイレクト先をLocationに含める。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Location string `json:"location,omitempty"`
}

func bodyOf(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeErrorBody(w, statusCode, bodyOf(apiErr))
}

// WriteRedirectErrorResponse はリダイレクト先を含むエラーレスポンスを書き込む。
// JSONクライアントに対してガードが303の代わりに返す。
func WriteRedirectErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError, location string) {
	body := bodyOf(apiErr)
	body.Location = location
	writeErrorBody(w, statusCode, body)
}

func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthenticated, model.ErrCodeProfileNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidEmail, model.ErrCodeWeakPassword, model.ErrCodeValidationFailed,
		model.ErrCodeSelectionMissing:
		return http.StatusBadRequest
	case model.ErrCodeEmailInUse, model.ErrCodeInvalidTransition:
		return http.StatusConflict
	case model.ErrCodeTooManyAttempts:
		return http.StatusTooManyRequests
	case model.ErrCodeRoleForbidden:
		return http.StatusForbidden
	case model.ErrCodePatientNotFound, model.ErrCodeDoctorNotFound, model.ErrCodeAppointmentNotFound:
		return http.StatusNotFound
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はエラーを統一フォーマットで書き込む。
// *model.APIError を含むエラーはコードに応じたステータスで返し、
// それ以外はログに記録して内部エラーとして返す。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status := StatusForCode(apiErr.Code)
		if status >= http.StatusInternalServerError {
			slog.Error("request failed",
				slog.String("path", r.URL.Path),
				slog.String("code", apiErr.Code),
				slog.String("error", err.Error()),
			)
		}
		WriteErrorResponse(w, status, apiErr)
		return
	}

	slog.Error("unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}
