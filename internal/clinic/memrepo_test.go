package clinic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// memRepo is an in-memory Repository for service tests. A single mutex plays
// the role of the store's row lock, serializing ReserveSlot and CreatePatient
// the way the real transactions do. Writes are staged and applied only on
// success, so the atomicity of the booking transaction is observable:
// failReserve simulates a store failure after the appointment insert, and the
// staged writes must then never land.
type memRepo struct {
	mu           sync.Mutex
	doctors      map[int64]*Doctor
	patients     map[int64]*Patient
	slots        map[int64]*Slot
	appointments map[int64]*Appointment
	nextID       int64

	failReserve error // injected store failure inside the booking transaction
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:      make(map[int64]*Doctor),
		patients:     make(map[int64]*Patient),
		slots:        make(map[int64]*Slot),
		appointments: make(map[int64]*Appointment),
		nextID:       1000,
	}
}

func (m *memRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRepo) addDoctor(d Doctor) *Doctor {
	m.doctors[d.ID] = &d
	return &d
}

func (m *memRepo) addPatient(p Patient) *Patient {
	m.patients[p.ID] = &p
	return &p
}

func (m *memRepo) addSlot(s Slot) *Slot {
	m.slots[s.ID] = &s
	return &s
}

func (m *memRepo) appointmentsForSlot(slotID int64) []*Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Appointment
	for _, a := range m.appointments {
		if a.SlotID == slotID {
			result = append(result, a)
		}
	}
	return result
}

func (m *memRepo) GetDoctorByID(_ context.Context, id int64) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *memRepo) ListDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Doctor
	for _, d := range m.doctors {
		result = append(result, *d)
	}
	return result, nil
}

func (m *memRepo) GetPatientByID(_ context.Context, id int64) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memRepo) GetPatientByEmail(_ context.Context, email string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.patients {
		if p.Email == email {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *memRepo) CreatePatient(_ context.Context, np NewPatient) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.doctors[np.DoctorID]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	if d.CurrentPatients >= d.MaxPatients {
		return nil, ErrDoctorFull
	}
	for _, p := range m.patients {
		if p.Email == np.Email {
			return nil, ErrEmailTaken
		}
	}

	doctorID := np.DoctorID
	p := &Patient{
		ID:           m.id(),
		FullName:     np.FullName,
		BirthDate:    np.BirthDate,
		Phone:        np.Phone,
		Email:        np.Email,
		Gender:       np.Gender,
		PasswordHash: np.PasswordHash,
		DoctorID:     &doctorID,
		CreatedAt:    time.Now(),
	}
	m.patients[p.ID] = p
	d.CurrentPatients++

	copied := *p
	return &copied, nil
}

func (m *memRepo) GetSlotByID(_ context.Context, id int64) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memRepo) ListOpenSlots(_ context.Context, doctorID int64, from time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Slot
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.Available && !s.ScheduleDate.Before(from) {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (m *memRepo) ReserveSlot(_ context.Context, patientID, slotID int64) (*BookedAppointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if !slot.Available {
		return nil, ErrSlotUnavailable
	}

	// Stage the appointment; nothing is applied yet.
	appt := &Appointment{
		ID:        m.id(),
		PatientID: patientID,
		DoctorID:  slot.DoctorID,
		SlotID:    slotID,
		CreatedAt: time.Now(),
	}

	if m.failReserve != nil {
		// Store failure mid-transaction: roll back, nothing lands.
		return nil, m.failReserve
	}

	m.appointments[appt.ID] = appt
	slot.Available = false

	return &BookedAppointment{
		Appointment:  *appt,
		ScheduleDate: slot.ScheduleDate,
		StartTime:    slot.StartTime,
		EndTime:      slot.EndTime,
	}, nil
}

func (m *memRepo) ListUpcomingAppointments(_ context.Context, patientID int64, today time.Time) ([]AppointmentSummary, error) {
	return m.listAppointments(patientID, func(date time.Time) bool { return !date.Before(today) })
}

func (m *memRepo) ListPastAppointments(_ context.Context, patientID int64, today time.Time) ([]AppointmentSummary, error) {
	return m.listAppointments(patientID, func(date time.Time) bool { return date.Before(today) })
}

func (m *memRepo) listAppointments(patientID int64, keep func(time.Time) bool) ([]AppointmentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []AppointmentSummary
	for _, a := range m.appointments {
		if a.PatientID != patientID {
			continue
		}
		slot, ok := m.slots[a.SlotID]
		if !ok || !keep(slot.ScheduleDate) {
			continue
		}
		doctorName := ""
		if d, ok := m.doctors[a.DoctorID]; ok {
			doctorName = d.FullName
		}
		result = append(result, AppointmentSummary{
			ID:           a.ID,
			DoctorName:   doctorName,
			ScheduleDate: slot.ScheduleDate,
			StartTime:    slot.StartTime,
			EndTime:      slot.EndTime,
		})
	}
	return result, nil
}

func (m *memRepo) EnsureSlotWindow(_ context.Context, from time.Time, days, startHour, endHour int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exists := func(doctorID int64, date time.Time, start string) bool {
		for _, s := range m.slots {
			if s.DoctorID == doctorID && s.ScheduleDate.Equal(date) && s.StartTime == start {
				return true
			}
		}
		return false
	}

	var inserted int64
	for dayOffset := 0; dayOffset < days; dayOffset++ {
		date := from.AddDate(0, 0, dayOffset)
		for hour := startHour; hour < endHour; hour++ {
			start := hhmm(hour)
			for doctorID := range m.doctors {
				if exists(doctorID, date, start) {
					continue
				}
				s := &Slot{
					ID:           m.id(),
					DoctorID:     doctorID,
					ScheduleDate: date,
					StartTime:    start,
					EndTime:      hhmm(hour + 1),
					Available:    true,
				}
				m.slots[s.ID] = s
				inserted++
			}
		}
	}
	return inserted, nil
}

func hhmm(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

var errStoreDown = errors.New("connection reset by peer")
