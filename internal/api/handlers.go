package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinicdesk/booking-api/internal/clinic"
)

// bookAppointmentHandler is the HTTP face of the booking transactor. The
// patient identity comes from the verified token; only the slot ID comes from
// the body. Unknown and already-taken slots both map to 409 so a stale client
// simply refreshes its slot list, while genuine store failures are a distinct
// 500 the client may retry.
func bookAppointmentHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := GetPatientID(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing_token", "access token missing")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		booked, err := svc.BookAppointment(r.Context(), patientID, req.SlotID)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, BookAppointmentResponse{
			Message: "appointment booked successfully",
			Appointment: BookedAppointment{
				AppointmentID: booked.ID,
				DoctorID:      booked.DoctorID,
				ScheduleDate:  formatDate(booked.ScheduleDate),
				StartTime:     booked.StartTime,
				EndTime:       booked.EndTime,
			},
		})
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clinic.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId is required and must be a positive integer")
	case errors.Is(err, clinic.ErrSlotNotFound),
		errors.Is(err, clinic.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "selected time slot is no longer available")
	default:
		writeError(w, http.StatusInternalServerError, "booking_failed", "failed to book appointment")
	}
}

func listDoctorsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "error fetching doctors")
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, DoctorResponse{
				DoctorID:        d.ID,
				FullName:        d.FullName,
				MaxPatients:     d.MaxPatients,
				CurrentPatients: d.CurrentPatients,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getPatientHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be an integer")
			return
		}

		patient, err := svc.GetPatient(r.Context(), id)
		if err != nil {
			if errors.Is(err, clinic.ErrPatientNotFound) {
				writeError(w, http.StatusNotFound, "patient_not_found", "patient not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "error fetching patient")
			return
		}

		writeJSON(w, http.StatusOK, PatientResponse{
			PatientID: patient.ID,
			FullName:  patient.FullName,
			BirthDate: formatDate(patient.BirthDate),
			Phone:     patient.Phone,
			Email:     patient.Email,
			Gender:    patient.Gender,
			DoctorID:  patient.DoctorID,
		})
	}
}

// requireOwnPatient parses the {id} route param and rejects callers reading
// another patient's sub-resources.
func requireOwnPatient(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be an integer")
		return 0, false
	}

	callerID, err := GetPatientID(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_token", "access token missing")
		return 0, false
	}

	if id != callerID {
		writeError(w, http.StatusForbidden, "access_denied", "access denied")
		return 0, false
	}

	return id, true
}

func upcomingAppointmentsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireOwnPatient(w, r)
		if !ok {
			return
		}

		appts, err := svc.UpcomingAppointments(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch appointments")
			return
		}

		writeJSON(w, http.StatusOK, toSummaryResponses(appts))
	}
}

func appointmentHistoryHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireOwnPatient(w, r)
		if !ok {
			return
		}

		appts, err := svc.AppointmentHistory(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch appointment history")
			return
		}

		writeJSON(w, http.StatusOK, toSummaryResponses(appts))
	}
}

func toSummaryResponses(appts []clinic.AppointmentSummary) []AppointmentSummaryResponse {
	resp := make([]AppointmentSummaryResponse, 0, len(appts))
	for _, a := range appts {
		resp = append(resp, AppointmentSummaryResponse{
			AppointmentID: a.ID,
			Doctor:        a.DoctorName,
			Date:          formatDate(a.ScheduleDate),
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
		})
	}
	return resp
}

// availableTimesHandler lists the open future slots of the caller's assigned
// doctor.
func availableTimesHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := GetPatientID(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing_token", "access token missing")
			return
		}

		slots, err := svc.ListOpenSlots(r.Context(), patientID)
		if err != nil {
			switch {
			case errors.Is(err, clinic.ErrNoAssignedDoctor):
				writeError(w, http.StatusBadRequest, "no_assigned_doctor", "no doctor assigned to the patient")
			case errors.Is(err, clinic.ErrPatientNotFound):
				writeError(w, http.StatusNotFound, "patient_not_found", "patient not found")
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch available time slots")
			}
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{
				SlotID:       s.ID,
				DoctorID:     s.DoctorID,
				ScheduleDate: formatDate(s.ScheduleDate),
				StartTime:    s.StartTime,
				EndTime:      s.EndTime,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
