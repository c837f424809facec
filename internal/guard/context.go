package guard

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/clinicman/internal/model"
)

type contextKey struct{}

// ContextWithProfile はガードを通過したプロフィールをコンテキストに格納する。
func ContextWithProfile(ctx context.Context, profile *model.UserProfile) context.Context {
	return context.WithValue(ctx, contextKey{}, profile)
}

// ProfileFromContext はガードが格納したプロフィールを返す。
func ProfileFromContext(ctx context.Context) (*model.UserProfile, bool) {
	p, ok := ctx.Value(contextKey{}).(*model.UserProfile)
	return p, ok && p != nil
}

func writeLocation(w http.ResponseWriter, location string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"location": location})
}
