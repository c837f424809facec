package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/clinicman/internal/guard"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
)

// maxBodyBytes はJSONリクエストボディの上限。
const maxBodyBytes = 64 << 10

// locationResponse は遷移先のみを返すレスポンス。
type locationResponse struct {
	Location string `json:"location"`
}

// writeJSON はvをJSONで書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをdstにデコードする。失敗時はエラーレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("リクエストボディの解析に失敗しました。"))
		return false
	}
	return true
}

// currentProfile はガードが検証したプロフィールを返す。
// ガードの外で呼ばれた場合は401を書き込みfalseを返す。
func currentProfile(w http.ResponseWriter, r *http.Request) (*model.UserProfile, bool) {
	profile, ok := guard.ProfileFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}
	return profile, true
}

// redirect はブラウザには303、JSONクライアントには遷移先をstatusCodeで返す。
func redirect(w http.ResponseWriter, r *http.Request, location string, statusCode int) {
	if guard.WantsJSON(r) {
		writeJSON(w, statusCode, locationResponse{Location: location})
		return
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
