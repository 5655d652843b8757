package api

import "time"

const dateLayout = "2006-01-02"

type RegisterRequest struct {
	FullName       string `json:"fullName" validate:"required"`
	BirthDate      string `json:"birthdate" validate:"required,datetime=2006-01-02"`
	Gender         string `json:"gender" validate:"required"`
	PhoneNumber    string `json:"phoneNumber" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8"`
	SelectedDoctor int64  `json:"selectedDoctor" validate:"required,gt=0"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SignInResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    UserSummary `json:"user"`
}

type UserSummary struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type BookAppointmentRequest struct {
	SlotID int64 `json:"slotId"`
}

type BookAppointmentResponse struct {
	Message     string            `json:"message"`
	Appointment BookedAppointment `json:"appointment"`
}

type BookedAppointment struct {
	AppointmentID int64  `json:"appointmentId"`
	DoctorID      int64  `json:"doctorId"`
	ScheduleDate  string `json:"scheduleDate"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
}

type DoctorResponse struct {
	DoctorID        int64  `json:"doctorId"`
	FullName        string `json:"fullName"`
	MaxPatients     int    `json:"maxPatients"`
	CurrentPatients int    `json:"currentPatients"`
}

type PatientResponse struct {
	PatientID int64  `json:"patientId"`
	FullName  string `json:"fullName"`
	BirthDate string `json:"birthDate"`
	Phone     string `json:"phoneNumber"`
	Email     string `json:"email"`
	Gender    string `json:"gender"`
	DoctorID  *int64 `json:"doctorId"`
}

type SlotResponse struct {
	SlotID       int64  `json:"slotId"`
	DoctorID     int64  `json:"doctorId"`
	ScheduleDate string `json:"scheduleDate"`
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
}

type AppointmentSummaryResponse struct {
	AppointmentID int64  `json:"appointmentId"`
	Doctor        string `json:"doctor"`
	Date          string `json:"date"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}
