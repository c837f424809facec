package query

import (
	"slices"
	"strings"
)

// Named は名前順に並べるレコード。
type Named interface {
	DisplayName() string
}

// Searchable は名前順に並べ、自由文で検索できるレコード。
type Searchable interface {
	Named
	SearchFields() []string
}

// SortByName は大文字小文字を区別しない名前順に並べた新しいスライスを返す。
// 同名の場合は元の順序を保つ。
func SortByName[T Named](items []T) []T {
	out := slices.Clone(items)
	if out == nil {
		out = []T{}
	}
	slices.SortStableFunc(out, func(a, b T) int {
		return strings.Compare(strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName()))
	})
	return out
}

// SearchNamed はtermに一致する項目を名前順で返す。
func SearchNamed[T Searchable](items []T, term string) []T {
	matched := make([]T, 0, len(items))
	for _, it := range items {
		if MatchesSearch(it.SearchFields(), term) {
			matched = append(matched, it)
		}
	}
	return SortByName(matched)
}
