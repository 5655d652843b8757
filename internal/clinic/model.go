package clinic

import "time"

// Doctor capacity is enforced at registration time: a doctor stops accepting
// new patients once current_patients reaches max_patients. Capacity has no
// bearing on slot booking.
type Doctor struct {
	ID              int64
	FullName        string
	MaxPatients     int
	CurrentPatients int
}

type Patient struct {
	ID           int64
	FullName     string
	BirthDate    time.Time
	Phone        string
	Email        string
	Gender       string
	PasswordHash string
	DoctorID     *int64
	CreatedAt    time.Time
}

// NewPatient is the registration input. PasswordHash is already hashed by the
// time it reaches the repository.
type NewPatient struct {
	FullName     string
	BirthDate    time.Time
	Phone        string
	Email        string
	Gender       string
	PasswordHash string
	DoctorID     int64
}

// Slot is a fixed time interval offered by one doctor. Slots are generated in
// bulk for a rolling window of future days and are never deleted; booking
// flips Available to false, permanently.
type Slot struct {
	ID           int64
	DoctorID     int64
	ScheduleDate time.Time
	StartTime    string // "HH:MM"
	EndTime      string // "HH:MM"
	Available    bool
}

// Appointment is immutable once created. A slot can carry at most one.
type Appointment struct {
	ID        int64
	PatientID int64
	DoctorID  int64
	SlotID    int64
	CreatedAt time.Time
}

// BookedAppointment is the booking result with the slot's schedule fields
// denormalized for the caller.
type BookedAppointment struct {
	Appointment
	ScheduleDate time.Time
	StartTime    string
	EndTime      string
}

// AppointmentSummary is the patient-facing listing row for upcoming and past
// appointments.
type AppointmentSummary struct {
	ID           int64
	DoctorName   string
	ScheduleDate time.Time
	StartTime    string
	EndTime      string
}
