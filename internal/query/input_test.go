package query

import (
	"net/url"
	"testing"

	"github.com/hitoshi/clinicman/internal/model"
)

func TestFilterInputFromValues(t *testing.T) {
	v := url.Values{}
	v.Set("date", " 2024-05-01 ")
	v.Set("doctor", "all")
	v.Set("status", "Scheduled")
	v.Set("q", "  ali ")

	f := FilterInputFromValues(v).Filters()
	if f.Date != "2024-05-01" || f.DoctorID != AllDoctors || f.Status != "Scheduled" {
		t.Errorf("filters = %+v", f)
	}
	// 検索語の前後の空白はMatchesSearchで除去する
	if f.Search != "  ali " {
		t.Errorf("Search = %q", f.Search)
	}
	if f.QueueStatus != "" {
		t.Errorf("QueueStatus = %q, want empty", f.QueueStatus)
	}
}

func TestFilterInput_QueueFilters(t *testing.T) {
	tests := []struct {
		status string
		want   model.QueueStatus
	}{
		{"waiting", model.QueueWaiting},
		{"In  Consultation", model.QueueInConsultation},
		{"", ""},
		{"bogus", ""},
	}
	for _, tt := range tests {
		f := FilterInput{Status: tt.status}.QueueFilters()
		if f.QueueStatus != tt.want {
			t.Errorf("QueueFilters(%q).QueueStatus = %q, want %q", tt.status, f.QueueStatus, tt.want)
		}
		if f.Status != "" {
			t.Errorf("QueueFilters(%q).Status = %q, want empty", tt.status, f.Status)
		}
	}
}
