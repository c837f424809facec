package model

import (
	"sort"
	"strings"
)

// Role はアクセス制御に使用するロール。閉じた列挙型として扱う。
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RolePatient      Role = "patient"
)

// AllRoles は定義済みの全ロールを返す。
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleDoctor, RoleReceptionist, RolePatient}
}

// ParseRole は文字列をRoleに変換する。
// 未定義の値はfalseを返し、呼び出し側でアクセス不可として扱う。
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleDoctor:
		return RoleDoctor, true
	case RoleReceptionist:
		return RoleReceptionist, true
	case RolePatient:
		return RolePatient, true
	default:
		return "", false
	}
}

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleReceptionist, RolePatient:
		return true
	}
	return false
}

// IsStaff は管理者・医師・受付のいずれかであるかを返す。
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleDoctor || r == RoleReceptionist
}

// RoleSet はページごとに許可されるロールの集合。
// 空集合は「認証済みであれば全ロール可」を意味する。
type RoleSet map[Role]struct{}

// NewRoleSet は指定ロールからRoleSetを生成する。
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Allows はロールが許可されているかを返す。
// 空集合の場合でも未定義ロールは許可しない。
func (s RoleSet) Allows(r Role) bool {
	if !r.Valid() {
		return false
	}
	if len(s) == 0 {
		return true
	}
	_, ok := s[r]
	return ok
}

// Names は許可ロールを定義順で返す。メッセージ表示用。
func (s RoleSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, r := range AllRoles() {
		if _, ok := s[r]; ok {
			names = append(names, string(r))
		}
	}
	var extra []string
	for r := range s {
		if !r.Valid() {
			extra = append(extra, string(r))
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}
