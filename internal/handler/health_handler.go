package handler

import (
	"encoding/json"
	"net/http"
)

// HydrationState はハイドレーションの完了状態。credential.Storeが満たす。
type HydrationState interface {
	IsHydrated() bool
}

// HealthHandler はGET /healthに応答する。
// 永続化された認証情報の読み込みが終わるまでは503を返す。
func HealthHandler(state HydrationState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		if !state.IsHydrated() {
			status = http.StatusServiceUnavailable
			body["status"] = "starting"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}
