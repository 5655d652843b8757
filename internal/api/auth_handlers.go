package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking-api/internal/auth"
	"github.com/clinicdesk/booking-api/internal/clinic"
	redisclient "github.com/clinicdesk/booking-api/internal/redis"
)

var validate = validator.New()

func registerHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		birthDate, err := time.Parse(dateLayout, req.BirthDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_birthdate", "birthdate must be YYYY-MM-DD")
			return
		}

		np := clinic.NewPatient{
			FullName:  req.FullName,
			BirthDate: birthDate,
			Phone:     req.PhoneNumber,
			Email:     req.Email,
			Gender:    req.Gender,
			DoctorID:  req.SelectedDoctor,
		}

		patient, err := svc.RegisterPatient(r.Context(), np, req.Password)
		if err != nil {
			handleRegisterError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"message":   "patient registered successfully",
			"patientId": patient.ID,
		})
	}
}

func handleRegisterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clinic.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, clinic.ErrDoctorFull):
		writeError(w, http.StatusConflict, "doctor_full", "selected doctor is at full capacity, please choose another doctor")
	case errors.Is(err, clinic.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "error registering patient")
	}
}

func signInHandler(svc *clinic.Service, tokens *auth.TokenManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignInRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "please enter both email and password")
			return
		}

		patient, err := svc.Authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, clinic.ErrPatientNotFound):
				writeError(w, http.StatusNotFound, "user_not_found", "user not found")
			case errors.Is(err, clinic.ErrInvalidCredentials):
				writeError(w, http.StatusUnauthorized, "invalid_credentials", "incorrect password")
			default:
				writeError(w, http.StatusInternalServerError, "internal_error", "error retrieving user")
			}
			return
		}

		token, err := tokens.Issue(patient.ID, patient.Email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "could not issue token")
			return
		}

		writeJSON(w, http.StatusOK, SignInResponse{
			Message: "sign-in successful",
			Token:   token,
			User: UserSummary{
				ID:       patient.ID,
				FullName: patient.FullName,
				Email:    patient.Email,
			},
		})
	}
}

// logoutHandler revokes the presented token until its natural expiry, so a
// signed-out token cannot be replayed even though JWTs are stateless.
func logoutHandler(denylist redisclient.Denylist, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_token", "access token missing")
			return
		}

		ttl := claims.RemainingTTL(time.Now())
		if err := denylist.Revoke(r.Context(), claims.ID, ttl); err != nil {
			log.Error("token revocation failed", zap.Error(err),
				zap.String("request_id", GetRequestID(r.Context())))
			writeError(w, http.StatusInternalServerError, "internal_error", "could not sign out")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"message": "logout successful"})
	}
}
