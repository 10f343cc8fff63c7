package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error はバックエンドが2xx以外を返した場合のエラー。
// バックエンドのステータスとメッセージをそのまま呼び出し元に伝える。
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend returned %d [%s]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// StatusOf はエラーに含まれるHTTPステータスを返す。Errorでない場合は0を返す。
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUnauthorized はエラーが401応答によるものかどうかを返す。
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// errorPayload はバックエンドのエラーレスポンスとして受け付ける形式。
// message は文字列または文字列の配列で返されることがある。
type errorPayload struct {
	Code    string          `json:"code"`
	Error   string          `json:"error"`
	Message json.RawMessage `json:"message"`
}

// newError はレスポンスボディからErrorを組み立てる。
func newError(status int, body []byte) *Error {
	e := &Error{Status: status}

	var payload errorPayload
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		e.Code = payload.Code
		e.Message = decodeMessage(payload.Message)
		if e.Message == "" {
			e.Message = payload.Error
		}
	} else if len(body) > 0 {
		e.Message = strings.TrimSpace(string(body))
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func decodeMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, "; ")
	}
	return ""
}
