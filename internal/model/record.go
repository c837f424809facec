package model

import (
	"encoding/json"
	"time"
)

// Appointment はappointments/{key}に保存される予約を表す。
// patientIdとpatientUidはどちらも患者の認証UIDを保持する。
type Appointment struct {
	ID          string    `json:"appointmentId"`
	PatientName string    `json:"patientName"`
	PatientID   string    `json:"patientId"`
	PatientUID  string    `json:"patientUid,omitempty"`
	DoctorUID   string    `json:"doctorUid"`
	DoctorName  string    `json:"doctorName"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Reason      string    `json:"reason"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// UnmarshalJSON は旧フィールド名appointmentDateと文字列のタイムスタンプを受け付ける。
func (a *Appointment) UnmarshalJSON(data []byte) error {
	type alias Appointment
	var raw struct {
		alias
		AppointmentDate string `json:"appointmentDate"`
		Timestamp       string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Appointment(raw.alias)
	if a.Date == "" {
		a.Date = raw.AppointmentDate
	}
	a.Timestamp = parseTimestamp(raw.Timestamp)
	return nil
}

func (a Appointment) RecordID() string   { return a.ID }
func (a Appointment) DoctorLink() string { return a.DoctorUID }

// PatientLinks は患者を指す識別子を返す。どちらか一方が一致すれば本人の予約とみなす。
func (a Appointment) PatientLinks() []string { return []string{a.PatientID, a.PatientUID} }
func (a Appointment) StatusValue() string    { return a.Status }
func (a Appointment) DateValue() string      { return a.Date }
func (a Appointment) TimeValue() string      { return a.Time }
func (a Appointment) SearchFields() []string {
	return []string{a.PatientName, a.DoctorName, a.Reason}
}

// QueueStatus は予約の受付キュー上の状態を返す。
func (a Appointment) QueueStatus() QueueStatus { return QueueStatusOf(a.Status) }

// Patient はpatients/{key}に保存される患者登録を表す。
// keyはストア生成キー、または本人登録の場合は認証UID。
type Patient struct {
	ID                    string    `json:"id"`
	UID                   string    `json:"uid,omitempty"`
	Name                  string    `json:"name"`
	Age                   string    `json:"age"`
	Gender                string    `json:"gender"`
	Contact               string    `json:"contact"`
	Email                 string    `json:"email,omitempty"`
	Address               string    `json:"address,omitempty"`
	Token                 string    `json:"token"`
	Status                string    `json:"status"`
	RegistrationTimestamp time.Time `json:"registrationTimestamp"`
}

// UnmarshalJSON は文字列のタイムスタンプを受け付ける。
func (p *Patient) UnmarshalJSON(data []byte) error {
	type alias Patient
	var raw struct {
		alias
		RegistrationTimestamp string `json:"registrationTimestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Patient(raw.alias)
	p.RegistrationTimestamp = parseTimestamp(raw.RegistrationTimestamp)
	return nil
}

func (p Patient) RecordID() string       { return p.ID }
func (p Patient) DoctorLink() string     { return "" }
func (p Patient) PatientLinks() []string { return []string{p.ID, p.UID} }
func (p Patient) StatusValue() string    { return p.Status }
func (p Patient) DateValue() string      { return "" }
func (p Patient) TimeValue() string      { return "" }
func (p Patient) DisplayName() string    { return p.Name }
func (p Patient) SearchFields() []string { return []string{p.Name, p.ID, p.Contact} }

// Prescription はprescriptions/{key}に保存される処方を表す。
// 患者はストアキー（patientFirebaseKey）と認証UID（patientId）で参照される。
// 旧データではpatientIdにストアキーが入っていることがある。
type Prescription struct {
	ID                 string    `json:"prescriptionId"`
	PatientFirebaseKey string    `json:"patientFirebaseKey,omitempty"`
	PatientID          string    `json:"patientId,omitempty"`
	DoctorUID          string    `json:"doctorUid"`
	DoctorName         string    `json:"doctorName"`
	DateIssued         string    `json:"dateIssued"`
	Medications        string    `json:"medications"`
	Notes              string    `json:"notes"`
	Timestamp          time.Time `json:"timestamp"`

	// PatientName は発行時と一覧取得時に解決した患者名。ストアへの書き込み後に設定する。
	PatientName string `json:"patientName,omitempty"`
}

// UnmarshalJSON は旧フィールド名date/medicinesと文字列のタイムスタンプを受け付ける。
func (p *Prescription) UnmarshalJSON(data []byte) error {
	type alias Prescription
	var raw struct {
		alias
		Date      string `json:"date"`
		Medicines string `json:"medicines"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Prescription(raw.alias)
	if p.DateIssued == "" {
		p.DateIssued = raw.Date
	}
	if p.Medications == "" {
		p.Medications = raw.Medicines
	}
	p.Timestamp = parseTimestamp(raw.Timestamp)
	return nil
}

func (p Prescription) RecordID() string   { return p.ID }
func (p Prescription) DoctorLink() string { return p.DoctorUID }
func (p Prescription) PatientLinks() []string {
	return []string{p.PatientFirebaseKey, p.PatientID}
}
func (p Prescription) StatusValue() string { return "" }
func (p Prescription) DateValue() string   { return p.DateIssued }
func (p Prescription) TimeValue() string   { return "" }
func (p Prescription) SearchFields() []string {
	return []string{p.PatientName, p.DoctorName, p.Medications, p.Notes}
}

// PatientRef は処方が指す患者の識別子を返す。新形式のキーを優先する。
func (p Prescription) PatientRef() string {
	if p.PatientFirebaseKey != "" {
		return p.PatientFirebaseKey
	}
	return p.PatientID
}

// parseTimestamp はISO 8601形式のタイムスタンプを解析する。解析できない場合はゼロ値。
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
