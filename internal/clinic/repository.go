package clinic

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot is no longer available")
	ErrDoctorFull      = errors.New("doctor is at full patient capacity")
	ErrEmailTaken      = errors.New("email is already registered")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id int64) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)

	GetPatientByID(ctx context.Context, id int64) (*Patient, error)
	GetPatientByEmail(ctx context.Context, email string) (*Patient, error)

	// CreatePatient registers a patient against a doctor inside one
	// transaction: it locks the doctor row, rejects with ErrDoctorFull when
	// capacity is reached, inserts the patient, and increments the doctor's
	// patient count.
	CreatePatient(ctx context.Context, np NewPatient) (*Patient, error)

	GetSlotByID(ctx context.Context, id int64) (*Slot, error)
	ListOpenSlots(ctx context.Context, doctorID int64, from time.Time) ([]Slot, error)

	// ReserveSlot atomically claims a slot for a patient and records the
	// appointment. Implementations must serialize concurrent calls for the
	// same slot at the store level: exactly one caller commits, the rest get
	// ErrSlotUnavailable, and a failed call leaves no partial writes.
	ReserveSlot(ctx context.Context, patientID, slotID int64) (*BookedAppointment, error)

	ListUpcomingAppointments(ctx context.Context, patientID int64, today time.Time) ([]AppointmentSummary, error)
	ListPastAppointments(ctx context.Context, patientID int64, today time.Time) ([]AppointmentSummary, error)

	// EnsureSlotWindow tops up hourly slots for every doctor covering the
	// given number of days from the start date. Already-existing slots are
	// left untouched. Returns how many slots were inserted.
	EnsureSlotWindow(ctx context.Context, from time.Time, days, startHour, endHour int) (int64, error)
}
