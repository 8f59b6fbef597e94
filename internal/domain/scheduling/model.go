package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AllDoctors is the wire value of the "any doctor" selector. It is converted
// to a DoctorSelector at the boundary and never stored.
const AllDoctors = "AllDoctors"

// DoctorSelector picks either one doctor or any doctor holding a slot.
type DoctorSelector struct {
	Any      bool
	DoctorID string
}

// AnyDoctor selects whichever doctor has the slot open.
func AnyDoctor() DoctorSelector { return DoctorSelector{Any: true} }

// Doctor selects one specific doctor.
func Doctor(id string) DoctorSelector { return DoctorSelector{DoctorID: id} }

// ParseDoctorSelector converts a doctor_id parameter, which may be AllDoctors.
func ParseDoctorSelector(s string) (DoctorSelector, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return DoctorSelector{}, fmt.Errorf("doctor_id is required: %w", ErrInvalidInput)
	case AllDoctors:
		return AnyDoctor(), nil
	}
	return Doctor(s), nil
}

func (d DoctorSelector) String() string {
	if d.Any {
		return AllDoctors
	}
	return d.DoctorID
}

func (d DoctorSelector) validate() error {
	if !d.Any && (d.DoctorID == "" || d.DoctorID == AllDoctors) {
		return fmt.Errorf("doctor selector %q: %w", d.DoctorID, ErrInvalidInput)
	}
	return nil
}

// AvailabilitySlot is a half-hour a doctor has declared open on a given date.
type AvailabilitySlot struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Weekday   int       `db:"weekday" json:"weekday"`
	StartTime Label     `db:"start_time" json:"start_time"`
	EndTime   Label     `db:"end_time" json:"end_time"`
	DoctorID  string    `db:"doctor_id" json:"doctor_id"`
	Date      time.Time `db:"slot_date" json:"date"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Appointment is a half-hour booked by a patient. For one (doctor, date,
// start) there is either an AvailabilitySlot or an Appointment, never both.
type Appointment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Weekday   int       `db:"weekday" json:"weekday"`
	StartTime Label     `db:"start_time" json:"start_time"`
	EndTime   Label     `db:"end_time" json:"end_time"`
	DoctorID  string    `db:"doctor_id" json:"doctor_id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	Date      time.Time `db:"slot_date" json:"date"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// availability returns the slot this appointment consumed, without an id.
func (a *Appointment) availability() *AvailabilitySlot {
	return &AvailabilitySlot{
		Weekday:   a.Weekday,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		DoctorID:  a.DoctorID,
		Date:      a.Date,
	}
}

// BookingRequest is one slot a patient asks to reserve.
type BookingRequest struct {
	StartTime  Label
	Weekday    int
	Doctor     DoctorSelector
	WeekOffset int
	PatientID  string
}

// Validate reports ErrInvalidInput for anything the week pages could not have
// produced.
func (r BookingRequest) Validate() error {
	if _, err := ParseLabel(string(r.StartTime)); err != nil {
		return err
	}
	if !ValidWeekday(r.Weekday) {
		return fmt.Errorf("weekday %d: %w", r.Weekday, ErrInvalidInput)
	}
	if err := validWeekOffset(r.WeekOffset); err != nil {
		return err
	}
	if err := r.Doctor.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return fmt.Errorf("patient_id is required: %w", ErrInvalidInput)
	}
	return nil
}

// BookingResult pairs a request with its outcome. Exactly one of Appointment
// and Err is set.
type BookingResult struct {
	Request     BookingRequest
	Appointment *Appointment
	Err         error
}

// AvailabilityEntry is one (weekday, start) a doctor declares open.
type AvailabilityEntry struct {
	Weekday   int   `json:"weekday"`
	StartTime Label `json:"start_time"`
}

// Party identifies whose appointments to list: a doctor or a patient.
type Party struct {
	DoctorID  string
	PatientID string
}

func (p Party) validate() error {
	if (p.DoctorID == "") == (p.PatientID == "") {
		return fmt.Errorf("exactly one of doctor_id and patient_id is required: %w", ErrInvalidInput)
	}
	if p.DoctorID == AllDoctors {
		return fmt.Errorf("appointments cannot be listed for %s: %w", AllDoctors, ErrInvalidInput)
	}
	return nil
}
