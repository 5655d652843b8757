package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicdesk/booking-api/internal/auth"
	"github.com/clinicdesk/booking-api/internal/clinic"
)

// fakeRepo is a hand-rolled in-memory clinic.Repository. The mutex stands in
// for the store's row lock, which is all the handlers need to behave like the
// real thing.
type fakeRepo struct {
	mu           sync.Mutex
	doctors      map[int64]*clinic.Doctor
	patients     map[int64]*clinic.Patient
	slots        map[int64]*clinic.Slot
	appointments map[int64]*clinic.Appointment
	nextID       int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		doctors:      make(map[int64]*clinic.Doctor),
		patients:     make(map[int64]*clinic.Patient),
		slots:        make(map[int64]*clinic.Slot),
		appointments: make(map[int64]*clinic.Appointment),
		nextID:       500,
	}
}

func (f *fakeRepo) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) GetDoctorByID(_ context.Context, id int64) (*clinic.Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.doctors[id]
	if !ok {
		return nil, clinic.ErrDoctorNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeRepo) ListDoctors(_ context.Context) ([]clinic.Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []clinic.Doctor
	for _, d := range f.doctors {
		result = append(result, *d)
	}
	return result, nil
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id int64) (*clinic.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, clinic.ErrPatientNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeRepo) GetPatientByEmail(_ context.Context, email string) (*clinic.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.patients {
		if p.Email == email {
			copied := *p
			return &copied, nil
		}
	}
	return nil, clinic.ErrPatientNotFound
}

func (f *fakeRepo) CreatePatient(_ context.Context, np clinic.NewPatient) (*clinic.Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.doctors[np.DoctorID]
	if !ok {
		return nil, clinic.ErrDoctorNotFound
	}
	if d.CurrentPatients >= d.MaxPatients {
		return nil, clinic.ErrDoctorFull
	}
	for _, p := range f.patients {
		if p.Email == np.Email {
			return nil, clinic.ErrEmailTaken
		}
	}

	doctorID := np.DoctorID
	p := &clinic.Patient{
		ID:           f.id(),
		FullName:     np.FullName,
		BirthDate:    np.BirthDate,
		Phone:        np.Phone,
		Email:        np.Email,
		Gender:       np.Gender,
		PasswordHash: np.PasswordHash,
		DoctorID:     &doctorID,
		CreatedAt:    time.Now(),
	}
	f.patients[p.ID] = p
	d.CurrentPatients++
	copied := *p
	return &copied, nil
}

func (f *fakeRepo) GetSlotByID(_ context.Context, id int64) (*clinic.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.slots[id]
	if !ok {
		return nil, clinic.ErrSlotNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeRepo) ListOpenSlots(_ context.Context, doctorID int64, from time.Time) ([]clinic.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []clinic.Slot
	for _, s := range f.slots {
		if s.DoctorID == doctorID && s.Available && !s.ScheduleDate.Before(from) {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (f *fakeRepo) ReserveSlot(_ context.Context, patientID, slotID int64) (*clinic.BookedAppointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	slot, ok := f.slots[slotID]
	if !ok {
		return nil, clinic.ErrSlotNotFound
	}
	if !slot.Available {
		return nil, clinic.ErrSlotUnavailable
	}

	appt := &clinic.Appointment{
		ID:        f.id(),
		PatientID: patientID,
		DoctorID:  slot.DoctorID,
		SlotID:    slotID,
		CreatedAt: time.Now(),
	}
	f.appointments[appt.ID] = appt
	slot.Available = false

	return &clinic.BookedAppointment{
		Appointment:  *appt,
		ScheduleDate: slot.ScheduleDate,
		StartTime:    slot.StartTime,
		EndTime:      slot.EndTime,
	}, nil
}

func (f *fakeRepo) ListUpcomingAppointments(_ context.Context, patientID int64, today time.Time) ([]clinic.AppointmentSummary, error) {
	return f.summaries(patientID, today, true), nil
}

func (f *fakeRepo) ListPastAppointments(_ context.Context, patientID int64, today time.Time) ([]clinic.AppointmentSummary, error) {
	return f.summaries(patientID, today, false), nil
}

func (f *fakeRepo) summaries(patientID int64, today time.Time, upcoming bool) []clinic.AppointmentSummary {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []clinic.AppointmentSummary
	for _, a := range f.appointments {
		if a.PatientID != patientID {
			continue
		}
		slot := f.slots[a.SlotID]
		if slot == nil || slot.ScheduleDate.Before(today) == upcoming {
			continue
		}
		doctorName := ""
		if d := f.doctors[a.DoctorID]; d != nil {
			doctorName = d.FullName
		}
		result = append(result, clinic.AppointmentSummary{
			ID:           a.ID,
			DoctorName:   doctorName,
			ScheduleDate: slot.ScheduleDate,
			StartTime:    slot.StartTime,
			EndTime:      slot.EndTime,
		})
	}
	return result
}

func (f *fakeRepo) EnsureSlotWindow(_ context.Context, _ time.Time, _, _, _ int) (int64, error) {
	return 0, nil
}

// fakeDenylist is an in-memory stand-in for the redis denylist.
type fakeDenylist struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func newFakeDenylist() *fakeDenylist {
	return &fakeDenylist{revoked: make(map[string]bool)}
}

func (d *fakeDenylist) Revoke(_ context.Context, tokenID string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[tokenID] = true
	return nil
}

func (d *fakeDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.revoked[tokenID], nil
}

// -- test harness --

type testEnv struct {
	router   http.Handler
	repo     *fakeRepo
	tokens   *auth.TokenManager
	denylist *fakeDenylist
	slotDate time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newFakeRepo()

	y, m, d := time.Now().AddDate(0, 0, 14).Date()
	slotDate := time.Date(y, m, d, 0, 0, 0, 0, time.Local)

	repo.doctors[1] = &clinic.Doctor{ID: 1, FullName: "Dr. John Smith", MaxPatients: 100, CurrentPatients: 2}
	doctorID := int64(1)
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	repo.patients[7] = &clinic.Patient{ID: 7, FullName: "Alice Martin", Email: "alice@example.com", PasswordHash: hash, DoctorID: &doctorID}
	repo.patients[9] = &clinic.Patient{ID: 9, FullName: "Bob Keller", Email: "bob@example.com", PasswordHash: hash, DoctorID: &doctorID}
	repo.slots[42] = &clinic.Slot{ID: 42, DoctorID: 1, ScheduleDate: slotDate, StartTime: "10:00", EndTime: "11:00", Available: true}

	log := zap.NewNop()
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	denylist := newFakeDenylist()
	svc := clinic.NewService(repo, log)

	router := NewRouter(RouterConfig{
		Service:    svc,
		Tokens:     tokens,
		Denylist:   denylist,
		Log:        log,
		CORSOrigin: "http://localhost:3000",
		Env:        "test",
		Version:    "test",
	})

	return &testEnv{
		router:   router,
		repo:     repo,
		tokens:   tokens,
		denylist: denylist,
		slotDate: slotDate,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) tokenFor(t *testing.T, patientID int64, email string) string {
	t.Helper()
	token, err := e.tokens.Issue(patientID, email)
	require.NoError(t, err)
	return token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

// -- tests --

// The full booking scenario: book slot 42, see it disappear from the open
// list, and watch a second patient bounce off with a conflict.
func TestBookAppointmentEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	alice := env.tokenFor(t, 7, "alice@example.com")
	bob := env.tokenFor(t, 9, "bob@example.com")

	rec := env.do(t, http.MethodPost, "/api/book-appointment", alice, map[string]int64{"slotId": 42})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BookAppointmentResponse
	decodeBody(t, rec, &resp)
	assert.NotZero(t, resp.Appointment.AppointmentID)
	assert.Equal(t, int64(1), resp.Appointment.DoctorID)
	assert.Equal(t, env.slotDate.Format("2006-01-02"), resp.Appointment.ScheduleDate)
	assert.Equal(t, "10:00", resp.Appointment.StartTime)
	assert.Equal(t, "11:00", resp.Appointment.EndTime)

	// The slot is gone from the open list.
	rec = env.do(t, http.MethodGet, "/api/available-times", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var slots []SlotResponse
	decodeBody(t, rec, &slots)
	for _, s := range slots {
		assert.NotEqual(t, int64(42), s.SlotID)
	}

	// A second patient racing for the same slot gets a conflict, not a crash
	// and not a second appointment.
	rec = env.do(t, http.MethodPost, "/api/book-appointment", bob, map[string]int64{"slotId": 42})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "slot_unavailable", errResp.Error)

	// And it shows up in Alice's upcoming appointments.
	rec = env.do(t, http.MethodGet, "/api/patients/7/upcoming-appointments", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var upcoming []AppointmentSummaryResponse
	decodeBody(t, rec, &upcoming)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "Dr. John Smith", upcoming[0].Doctor)
}

func TestBookAppointmentValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.tokenFor(t, 7, "alice@example.com")

	// Missing slotId
	rec := env.do(t, http.MethodPost, "/api/book-appointment", alice, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Negative slotId
	rec = env.do(t, http.MethodPost, "/api/book-appointment", alice, map[string]int64{"slotId": -3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unparseable body
	req := httptest.NewRequest(http.MethodPost, "/api/book-appointment", bytes.NewBufferString("{nope"))
	req.Header.Set("Authorization", "Bearer "+alice)
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)

	// Nonexistent slot is a conflict, not a server error.
	rec = env.do(t, http.MethodPost, "/api/book-appointment", alice, map[string]int64{"slotId": 999999})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBookAppointmentRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/book-appointment", "", map[string]int64{"slotId": 42})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/book-appointment", "garbage-token", map[string]int64{"slotId": 42})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The slot must be untouched after rejected attempts.
	slot := env.repo.slots[42]
	assert.True(t, slot.Available)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	alice := env.tokenFor(t, 7, "alice@example.com")

	rec := env.do(t, http.MethodPost, "/api/logout", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The same token no longer works anywhere.
	rec = env.do(t, http.MethodPost, "/api/book-appointment", alice, map[string]int64{"slotId": 42})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var errResp ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "token_revoked", errResp.Error)
}

func TestRegisterAndSignIn(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]any{
		"fullName":       "Carol Diaz",
		"birthdate":      "1991-04-02",
		"gender":         "female",
		"phoneNumber":    "555-0134",
		"email":          "carol@example.com",
		"password":       "correct horse",
		"selectedDoctor": 1,
	}

	rec := env.do(t, http.MethodPost, "/api/register", "", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/signin", "", map[string]string{
		"email":    "carol@example.com",
		"password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var signin SignInResponse
	decodeBody(t, rec, &signin)
	assert.NotEmpty(t, signin.Token)
	assert.Equal(t, "Carol Diaz", signin.User.FullName)

	// Wrong password
	rec = env.do(t, http.MethodPost, "/api/signin", "", map[string]string{
		"email":    "carol@example.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown user
	rec = env.do(t, http.MethodPost, "/api/signin", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	// Missing fields
	rec := env.do(t, http.MethodPost, "/api/register", "", map[string]any{"email": "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown doctor
	rec = env.do(t, http.MethodPost, "/api/register", "", map[string]any{
		"fullName":       "No Doctor",
		"birthdate":      "1990-01-01",
		"gender":         "male",
		"phoneNumber":    "555-0000",
		"email":          "nodoc@example.com",
		"password":       "longenough",
		"selectedDoctor": 77,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterDoctorFull(t *testing.T) {
	env := newTestEnv(t)
	env.repo.doctors[1].CurrentPatients = env.repo.doctors[1].MaxPatients

	rec := env.do(t, http.MethodPost, "/api/register", "", map[string]any{
		"fullName":       "Late Patient",
		"birthdate":      "1990-01-01",
		"gender":         "male",
		"phoneNumber":    "555-0001",
		"email":          "late@example.com",
		"password":       "longenough",
		"selectedDoctor": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListDoctorsIsPublic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/doctors", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doctors []DoctorResponse
	decodeBody(t, rec, &doctors)
	require.Len(t, doctors, 1)
	assert.Equal(t, "Dr. John Smith", doctors[0].FullName)
}

func TestPatientsCanOnlyReadOwnAppointments(t *testing.T) {
	env := newTestEnv(t)
	alice := env.tokenFor(t, 7, "alice@example.com")

	for _, path := range []string{
		"/api/patients/9/upcoming-appointments",
		"/api/patients/9/appointment-history",
	} {
		rec := env.do(t, http.MethodGet, path, alice, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}

func TestGetPatient(t *testing.T) {
	env := newTestEnv(t)
	alice := env.tokenFor(t, 7, "alice@example.com")

	rec := env.do(t, http.MethodGet, "/api/patients/7", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var patient PatientResponse
	decodeBody(t, rec, &patient)
	assert.Equal(t, int64(7), patient.PatientID)
	assert.Equal(t, "Alice Martin", patient.FullName)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/patients/%d", 12345), alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
