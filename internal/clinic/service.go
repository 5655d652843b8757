package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/booking-api/internal/auth"
)

var (
	ErrInvalidSlot        = errors.New("slot id is missing or malformed")
	ErrBookingFailed      = errors.New("booking failed")
	ErrNoAssignedDoctor   = errors.New("no doctor assigned to the patient")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

type Service struct {
	repo Repository
	log  *zap.Logger
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
	}
}

// BookAppointment reserves a slot for a patient. The store transaction is the
// sole serialization point: when two callers race for the same slot exactly
// one wins and the rest get ErrSlotUnavailable. Losers leave no partial
// writes and may safely retry with a different slot.
//
// Contention outcomes (ErrSlotNotFound, ErrSlotUnavailable) are expected and
// not logged as anomalies. Everything else is a store failure, logged and
// wrapped in ErrBookingFailed so the caller can tell it apart from a slot
// that was simply taken.
func (s *Service) BookAppointment(ctx context.Context, patientID, slotID int64) (*BookedAppointment, error) {
	if slotID <= 0 {
		return nil, ErrInvalidSlot
	}

	booked, err := s.repo.ReserveSlot(ctx, patientID, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) || errors.Is(err, ErrSlotUnavailable) {
			return nil, err
		}
		s.log.Error("booking transaction failed",
			zap.Int64("patient_id", patientID),
			zap.Int64("slot_id", slotID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}

	s.log.Info("appointment booked",
		zap.Int64("appointment_id", booked.ID),
		zap.Int64("patient_id", patientID),
		zap.Int64("slot_id", slotID),
	)

	return booked, nil
}

// RegisterPatient hashes the password and creates the patient against the
// chosen doctor. Capacity enforcement happens inside the repository's
// registration transaction.
func (s *Service) RegisterPatient(ctx context.Context, np NewPatient, password string) (*Patient, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	np.PasswordHash = hash

	patient, err := s.repo.CreatePatient(ctx, np)
	if err != nil {
		return nil, err
	}

	s.log.Info("patient registered",
		zap.Int64("patient_id", patient.ID),
		zap.Int64("doctor_id", np.DoctorID),
	)

	return patient, nil
}

// Authenticate verifies a patient's credentials and returns the patient.
// Unknown email and wrong password are deliberately collapsed into
// ErrInvalidCredentials at the HTTP layer's discretion.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Patient, error) {
	patient, err := s.repo.GetPatientByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	if !auth.CheckPassword(patient.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return patient, nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetPatientByID(ctx, id)
}

// ListOpenSlots returns future open slots for the patient's assigned doctor.
func (s *Service) ListOpenSlots(ctx context.Context, patientID int64) ([]Slot, error) {
	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if patient.DoctorID == nil {
		return nil, ErrNoAssignedDoctor
	}

	slots, err := s.repo.ListOpenSlots(ctx, *patient.DoctorID, today())
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

func (s *Service) UpcomingAppointments(ctx context.Context, patientID int64) ([]AppointmentSummary, error) {
	appts, err := s.repo.ListUpcomingAppointments(ctx, patientID, today())
	if err != nil {
		return nil, fmt.Errorf("list upcoming appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) AppointmentHistory(ctx context.Context, patientID int64) ([]AppointmentSummary, error) {
	appts, err := s.repo.ListPastAppointments(ctx, patientID, today())
	if err != nil {
		return nil, fmt.Errorf("list appointment history: %w", err)
	}
	return appts, nil
}

// EnsureSlotWindow tops up the rolling window of bookable slots.
func (s *Service) EnsureSlotWindow(ctx context.Context, days, startHour, endHour int) (int64, error) {
	inserted, err := s.repo.EnsureSlotWindow(ctx, today(), days, startHour, endHour)
	if err != nil {
		return 0, fmt.Errorf("ensure slot window: %w", err)
	}

	if inserted > 0 {
		s.log.Info("slot window topped up", zap.Int64("slots_inserted", inserted))
	}

	return inserted, nil
}

func today() time.Time {
	y, m, d := time.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
