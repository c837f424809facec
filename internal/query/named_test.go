package query

import (
	"reflect"
	"testing"

	"github.com/hitoshi/clinicman/internal/model"
)

func names[T Named](items []T) []string {
	out := []string{}
	for _, it := range items {
		out = append(out, it.DisplayName())
	}
	return out
}

func TestSortByName_CaseInsensitiveAndStable(t *testing.T) {
	profiles := []model.UserProfile{
		{ID: "1", Name: "bob"},
		{ID: "2", Name: "Alice"},
		{ID: "3", Name: "carol"},
		{ID: "4", Name: "alice"},
	}

	got := SortByName(profiles)

	if want := []string{"Alice", "alice", "bob", "carol"}; !reflect.DeepEqual(names(got), want) {
		t.Errorf("names = %v, want %v", names(got), want)
	}
	if profiles[0].Name != "bob" {
		t.Error("input must not be reordered")
	}
}

func TestSortByName_NilInput(t *testing.T) {
	if got := SortByName[model.Patient](nil); got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestSearchNamed_FiltersAndSorts(t *testing.T) {
	patients := []model.Patient{
		{ID: "-N3", Name: "Zara", Contact: "555-0100"},
		{ID: "-N1", Name: "adam", Contact: "555-0199"},
		{ID: "-N2", Name: "Maya", Contact: "555-0200"},
	}

	got := SearchNamed(patients, "555-01")
	if want := []string{"adam", "Zara"}; !reflect.DeepEqual(names(got), want) {
		t.Errorf("names = %v, want %v", names(got), want)
	}

	got = SearchNamed(patients, "-n2")
	if want := []string{"Maya"}; !reflect.DeepEqual(names(got), want) {
		t.Errorf("search by id = %v, want %v", names(got), want)
	}

	if got := SearchNamed(patients, ""); len(got) != 3 {
		t.Errorf("empty term should list all, got %d", len(got))
	}
}

func TestSearchNamed_DoctorDirectory(t *testing.T) {
	doctors := []model.UserProfile{
		{ID: "d1", Name: "Dr. Rao", Email: "rao@clinic.test", Specialization: "Cardiology"},
		{ID: "d2", Name: "Dr. Kim", Email: "kim@clinic.test", Specialization: "Neurology"},
	}

	got := SearchNamed(doctors, "cardio")
	if len(got) != 1 || got[0].ID != "d1" {
		t.Errorf("got %v", names(got))
	}
}
