package model

import "strings"

// 予約ステータスの表示用の値。ストアにはこの表記で保存する。
const (
	StatusScheduled      = "Scheduled"
	StatusConfirmed      = "Confirmed"
	StatusInConsultation = "In Consultation"
	StatusCompleted      = "Completed"
	StatusCancelled      = "Cancelled"
)

// legacyScheduled は旧データに残っている"Scheduled"の誤記。
const legacyScheduled = "shedules"

// NormalizeStatus はステータスを比較用の正規形（小文字・空白1個区切り）に変換する。
// 旧表記"shedules"は"scheduled"として扱う。
func NormalizeStatus(raw string) string {
	s := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if s == legacyScheduled {
		return "scheduled"
	}
	return s
}

// CanonicalStatus はステータスを表示用の表記に揃える。
// 未知の値はそのまま返す。
func CanonicalStatus(raw string) string {
	switch NormalizeStatus(raw) {
	case "scheduled":
		return StatusScheduled
	case "confirmed":
		return StatusConfirmed
	case "in consultation":
		return StatusInConsultation
	case "completed":
		return StatusCompleted
	case "cancelled":
		return StatusCancelled
	default:
		return raw
	}
}

// QueueStatus は受付キュー上の状態。予約ステータスから導出する。
type QueueStatus string

const (
	QueueWaiting        QueueStatus = "waiting"
	QueueInConsultation QueueStatus = "in consultation"
	QueueCompleted      QueueStatus = "completed"
	QueueCancelled      QueueStatus = "cancelled"
	QueueOther          QueueStatus = "other"
)

// QueueStatusOf は予約ステータスからキュー状態を導出する。
// Scheduled/Confirmed（旧表記を含む）は待機中とみなす。
func QueueStatusOf(status string) QueueStatus {
	switch NormalizeStatus(status) {
	case "scheduled", "confirmed":
		return QueueWaiting
	case "in consultation":
		return QueueInConsultation
	case "completed":
		return QueueCompleted
	case "cancelled":
		return QueueCancelled
	default:
		return QueueOther
	}
}

// ParseQueueStatus はフィルタ入力をQueueStatusに変換する。
func ParseQueueStatus(s string) (QueueStatus, bool) {
	q := QueueStatus(strings.ToLower(strings.Join(strings.Fields(s), " ")))
	switch q {
	case QueueWaiting, QueueInConsultation, QueueCompleted, QueueCancelled, QueueOther:
		return q, true
	}
	return "", false
}
