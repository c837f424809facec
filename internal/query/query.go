// Package query は一括取得したレコードからロールとフィルタに応じた表示対象を計算する。
// すべての関数は純粋で、入力のスライスを変更しない。
package query

import (
	"slices"
	"strings"

	"github.com/hitoshi/clinicman/internal/model"
)

// AllDoctors は医師フィルタを無効にする値。
const AllDoctors = "all"

// Record はフィルタ対象のレコード。
type Record interface {
	RecordID() string
	// DoctorLink は担当医の認証UID。医師と紐付かないレコードは空文字。
	DoctorLink() string
	// PatientLinks は患者を指す識別子。ストアキーと認証UIDのどちらも含みうる。
	PatientLinks() []string
	StatusValue() string
	DateValue() string
	TimeValue() string
	// SearchFields は自由文検索の対象フィールド。
	SearchFields() []string
}

// Filters は利用者が指定する絞り込み条件。空の項目は無条件に一致する。
type Filters struct {
	Date        string
	DoctorID    string
	Status      string
	QueueStatus model.QueueStatus
	PatientID   string
	Search      string
}

// ComputeVisible はロールで範囲を絞ったうえでフィルタを適用し、日付・時刻順に並べて返す。
// recordsがnilの場合は空のスライスを返す。
func ComputeVisible[T Record](records []T, role model.Role, actorID string, f Filters) []T {
	return ComputeVisibleLinked(records, role, actorID, nil, f)
}

// ComputeVisibleLinked はComputeVisibleと同じだが、患者ロールではlinkedのいずれかを指す記録も
// 本人の記録として扱う。linkedには本人の患者登録のストアキーを渡す。
// actorIDが空の場合はlinkedがあっても何も見せない。
func ComputeVisibleLinked[T Record](records []T, role model.Role, actorID string, linked []string, f Filters) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if !inScope(r, role, actorID, linked) {
			continue
		}
		if !f.match(r) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, compareChronological[T])
	return out
}

// inScope はロールに基づく可視範囲の判定。未知のロールには何も見せない。
func inScope(r Record, role model.Role, actorID string, linked []string) bool {
	switch role {
	case model.RoleAdmin, model.RoleReceptionist:
		return true
	case model.RoleDoctor:
		return actorID != "" && r.DoctorLink() == actorID
	case model.RolePatient:
		return actorID != "" && (BelongsTo(r, actorID) || BelongsTo(r, linked...))
	default:
		return false
	}
}

// BelongsTo はレコードがいずれかの患者識別子でactorIDと一致するかを返す。
func BelongsTo(r Record, ids ...string) bool {
	for _, id := range ids {
		if id == "" {
			continue
		}
		for _, link := range r.PatientLinks() {
			if link == id {
				return true
			}
		}
	}
	return false
}

func (f Filters) match(r Record) bool {
	if f.Date != "" && r.DateValue() != f.Date {
		return false
	}
	if f.DoctorID != "" && f.DoctorID != AllDoctors && r.DoctorLink() != f.DoctorID {
		return false
	}
	if f.Status != "" && model.NormalizeStatus(r.StatusValue()) != model.NormalizeStatus(f.Status) {
		return false
	}
	if f.QueueStatus != "" && model.QueueStatusOf(r.StatusValue()) != f.QueueStatus {
		return false
	}
	if f.PatientID != "" && !BelongsTo(r, f.PatientID) {
		return false
	}
	return MatchesSearch(r.SearchFields(), f.Search)
}

// MatchesSearch はtermがいずれかのフィールドに大文字小文字を区別せず含まれるかを返す。
// 空のtermは常に一致する。
func MatchesSearch(fields []string, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// compareChronological は日付昇順、同日内は時刻昇順。
// 日付のないレコードは日付のあるレコードの後、時刻のないレコードは同日の時刻ありの後に並ぶ。
func compareChronological[T Record](a, b T) int {
	if c := compareMissingLast(a.DateValue(), b.DateValue()); c != 0 {
		return c
	}
	return compareMissingLast(a.TimeValue(), b.TimeValue())
}

func compareMissingLast(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	default:
		return strings.Compare(a, b)
	}
}
