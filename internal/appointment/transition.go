package appointment

import "github.com/hitoshi/clinicman/internal/model"

// Action は予約に対する操作。
type Action string

const (
	ActionConfirm           Action = "confirm"
	ActionComplete          Action = "complete"
	ActionCancel            Action = "cancel"
	ActionStartConsultation Action = "start"
	ActionEndConsultation   Action = "finish"
)

// transition は遷移元（正規化済み）と遷移先のステータス。
type transition struct {
	from []string
	to   string
}

var transitions = map[Action]transition{
	ActionConfirm:           {from: []string{"scheduled"}, to: model.StatusConfirmed},
	ActionComplete:          {from: []string{"scheduled", "confirmed"}, to: model.StatusCompleted},
	ActionCancel:            {from: []string{"scheduled", "confirmed"}, to: model.StatusCancelled},
	ActionStartConsultation: {from: []string{"scheduled", "confirmed"}, to: model.StatusInConsultation},
	ActionEndConsultation:   {from: []string{"in consultation"}, to: model.StatusCompleted},
}

// AppointmentAction は予約一覧から実行できる操作名を解釈する。
func AppointmentAction(name string) (Action, bool) {
	switch a := Action(name); a {
	case ActionConfirm, ActionComplete, ActionCancel:
		return a, true
	}
	return "", false
}

// QueueAction は受付キューから実行できる操作名を解釈する。
// キュー画面の"complete"は診察終了を指す。
func QueueAction(name string) (Action, bool) {
	switch name {
	case "start":
		return ActionStartConsultation, true
	case "complete":
		return ActionEndConsultation, true
	}
	return "", false
}
