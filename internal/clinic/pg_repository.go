package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.FullName,
		&d.MaxPatients,
		&d.CurrentPatients,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.BirthDate,
		&p.Phone,
		&p.Email,
		&p.Gender,
		&p.PasswordHash,
		&p.DoctorID,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.ScheduleDate,
		&s.StartTime,
		&s.EndTime,
		&s.Available,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id int64) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, max_patients, current_patients
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, full_name, max_patients, current_patients
		FROM doctors
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, birth_date, phone, email, gender, password_hash, doctor_id, created_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, birth_date, phone, email, gender, password_hash, doctor_id, created_at
		FROM patients
		WHERE email = $1
	`, email)
	return scanPatient(row)
}

// CreatePatient locks the chosen doctor's row so the capacity check and the
// patient-count increment cannot race with a concurrent registration.
func (r *PgRepository) CreatePatient(ctx context.Context, np NewPatient) (*Patient, error) {
	var created *Patient

	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var maxPatients, currentPatients int
		err := tx.QueryRow(ctx, `
			SELECT max_patients, current_patients
			FROM doctors
			WHERE id = $1
			FOR UPDATE
		`, np.DoctorID).Scan(&maxPatients, &currentPatients)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrDoctorNotFound
			}
			return fmt.Errorf("lock doctor row: %w", err)
		}

		if currentPatients >= maxPatients {
			return ErrDoctorFull
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO patients (full_name, birth_date, phone, email, gender, password_hash, doctor_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, full_name, birth_date, phone, email, gender, password_hash, doctor_id, created_at
		`, np.FullName, np.BirthDate, np.Phone, np.Email, np.Gender, np.PasswordHash, np.DoctorID)

		p, err := scanPatient(row)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("insert patient: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE doctors
			SET current_patients = current_patients + 1
			WHERE id = $1
		`, np.DoctorID)
		if err != nil {
			return fmt.Errorf("update doctor patient count: %w", err)
		}

		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id int64) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, schedule_date, start_time, end_time, available
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, doctorID int64, from time.Time) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, schedule_date, start_time, end_time, available
		FROM slots
		WHERE doctor_id = $1 AND available AND schedule_date >= $2
		ORDER BY schedule_date, start_time
	`, doctorID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// ReserveSlot is the booking transaction. The SELECT ... FOR UPDATE gives two
// concurrent callers for the same slot a strict order: the second blocks
// until the first commits and then sees available = false. The availability
// re-read happens inside the transaction regardless of what any earlier read
// showed. Rollback on every non-commit path is guaranteed by BeginTxFunc.
func (r *PgRepository) ReserveSlot(ctx context.Context, patientID, slotID int64) (*BookedAppointment, error) {
	var booked *BookedAppointment

	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, doctor_id, schedule_date, start_time, end_time, available
			FROM slots
			WHERE id = $1
			FOR UPDATE
		`, slotID)

		slot, err := scanSlot(row)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return err
			}
			return fmt.Errorf("lock slot row: %w", err)
		}

		if !slot.Available {
			return ErrSlotUnavailable
		}

		var appt Appointment
		err = tx.QueryRow(ctx, `
			INSERT INTO appointments (patient_id, doctor_id, slot_id)
			VALUES ($1, $2, $3)
			RETURNING id, patient_id, doctor_id, slot_id, created_at
		`, patientID, slot.DoctorID, slotID).Scan(
			&appt.ID,
			&appt.PatientID,
			&appt.DoctorID,
			&appt.SlotID,
			&appt.CreatedAt,
		)
		if err != nil {
			// The UNIQUE constraint on slot_id backs up the row lock; a
			// violation here still means the slot was taken.
			if isUniqueViolation(err) {
				return ErrSlotUnavailable
			}
			return fmt.Errorf("insert appointment: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE slots
			SET available = FALSE
			WHERE id = $1
		`, slotID)
		if err != nil {
			return fmt.Errorf("mark slot unavailable: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("mark slot unavailable: expected 1 row, got %d", tag.RowsAffected())
		}

		booked = &BookedAppointment{
			Appointment:  appt,
			ScheduleDate: slot.ScheduleDate,
			StartTime:    slot.StartTime,
			EndTime:      slot.EndTime,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return booked, nil
}

func (r *PgRepository) ListUpcomingAppointments(ctx context.Context, patientID int64, today time.Time) ([]AppointmentSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, d.full_name, s.schedule_date, s.start_time, s.end_time
		FROM appointments a
		JOIN doctors d ON a.doctor_id = d.id
		JOIN slots s ON a.slot_id = s.id
		WHERE a.patient_id = $1 AND s.schedule_date >= $2
		ORDER BY s.schedule_date ASC, s.start_time ASC
	`, patientID, today)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

func (r *PgRepository) ListPastAppointments(ctx context.Context, patientID int64, today time.Time) ([]AppointmentSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, d.full_name, s.schedule_date, s.start_time, s.end_time
		FROM appointments a
		JOIN doctors d ON a.doctor_id = d.id
		JOIN slots s ON a.slot_id = s.id
		WHERE a.patient_id = $1 AND s.schedule_date < $2
		ORDER BY s.schedule_date DESC, s.start_time DESC
	`, patientID, today)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

func collectSummaries(rows pgx.Rows) ([]AppointmentSummary, error) {
	defer rows.Close()

	var result []AppointmentSummary
	for rows.Next() {
		var a AppointmentSummary
		if err := rows.Scan(&a.ID, &a.DoctorName, &a.ScheduleDate, &a.StartTime, &a.EndTime); err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// EnsureSlotWindow inserts hourly slots for every doctor over the window.
// ON CONFLICT DO NOTHING makes the top-up idempotent, so the worker can run
// as often as it likes without duplicating or resurrecting booked slots.
func (r *PgRepository) EnsureSlotWindow(ctx context.Context, from time.Time, days, startHour, endHour int) (int64, error) {
	doctorIDs, err := r.allDoctorIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("load doctor ids: %w", err)
	}

	var inserted int64
	err = pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for dayOffset := 0; dayOffset < days; dayOffset++ {
			date := from.AddDate(0, 0, dayOffset)
			for hour := startHour; hour < endHour; hour++ {
				start := fmt.Sprintf("%02d:00", hour)
				end := fmt.Sprintf("%02d:00", hour+1)
				for _, doctorID := range doctorIDs {
					tag, err := tx.Exec(ctx, `
						INSERT INTO slots (doctor_id, schedule_date, start_time, end_time, available)
						VALUES ($1, $2, $3, $4, TRUE)
						ON CONFLICT (doctor_id, schedule_date, start_time) DO NOTHING
					`, doctorID, date, start, end)
					if err != nil {
						return fmt.Errorf("insert slot: %w", err)
					}
					inserted += tag.RowsAffected()
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

func (r *PgRepository) allDoctorIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM doctors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
