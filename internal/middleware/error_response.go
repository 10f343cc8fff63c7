package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/personnel-dashboard/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの統一フォーマット。
// /me、/api/* の中継失敗、ログイン試行制限で共通に使う。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusForAPIError はAPIErrorのコードに対応するHTTPステータスを返す。
// 未知のコードは500とする。
func StatusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMissingFields, model.ErrCodeRequestRejected:
		return http.StatusBadRequest
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeBackendUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// StatusForError はサービス層のエラーをHTTPステータスに変換する。
// APIErrorを含まないエラーは500。
func StatusForError(err error) int {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return StatusForAPIError(apiErr)
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでJSONエラーレスポンスを書き込む。
// 認証状態に依存する内容のため、キャッシュさせない。
// 401の場合はBearerトークンが必要であることをWWW-Authenticateで示す。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if statusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="personnel-dashboard"`)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAPIError はエラーに対応するステータスと本文を書き込む。
// APIErrorでないエラーは内部エラーとして扱い、詳細はレスポンスに含めない。
func WriteAPIError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
}

// WriteInternalServerError は内部エラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
