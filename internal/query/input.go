package query

import (
	"net/url"
	"strings"

	"github.com/hitoshi/clinicman/internal/model"
)

// FilterInput は画面から受け取るフィルタの入力。
// URLクエリとライブビューのメッセージで同じ名前を使う。
type FilterInput struct {
	Date    string `json:"date"`
	Doctor  string `json:"doctor"`
	Status  string `json:"status"`
	Patient string `json:"patient"`
	Search  string `json:"q"`
}

// FilterInputFromValues はURLクエリからFilterInputを読み取る。
func FilterInputFromValues(v url.Values) FilterInput {
	return FilterInput{
		Date:    strings.TrimSpace(v.Get("date")),
		Doctor:  strings.TrimSpace(v.Get("doctor")),
		Status:  strings.TrimSpace(v.Get("status")),
		Patient: strings.TrimSpace(v.Get("patient")),
		Search:  v.Get("q"),
	}
}

// Filters は予約ステータスで絞り込むFiltersを返す。
func (in FilterInput) Filters() Filters {
	return Filters{
		Date:      in.Date,
		DoctorID:  in.Doctor,
		Status:    in.Status,
		PatientID: in.Patient,
		Search:    in.Search,
	}
}

// QueueFilters はstatusをキュー状態として解釈したFiltersを返す。
// 解釈できないキュー状態は無視する。
func (in FilterInput) QueueFilters() Filters {
	f := in.Filters()
	f.Status = ""
	if q, ok := model.ParseQueueStatus(in.Status); ok {
		f.QueueStatus = q
	}
	return f
}
