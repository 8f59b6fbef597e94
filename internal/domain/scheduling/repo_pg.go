package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const availCols = `id, weekday, start_time, end_time, doctor_id, slot_date, created_at`

func (r *availabilityRepoPG) scanSlot(row pgx.Row) (*AvailabilitySlot, error) {
	var (
		s          AvailabilitySlot
		start, end string
	)
	if err := row.Scan(&s.ID, &s.Weekday, &start, &end, &s.DoctorID, &s.Date, &s.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	s.StartTime, s.EndTime = Label(start), Label(end)
	return &s, nil
}

func (r *availabilityRepoPG) FindByWeek(ctx context.Context, doctor DoctorSelector, weekStart, weekEnd time.Time) ([]*AvailabilitySlot, error) {
	query := `SELECT ` + availCols + ` FROM availability_slot WHERE slot_date BETWEEN $1 AND $2`
	args := []interface{}{weekStart, weekEnd}
	if !doctor.Any {
		query += ` AND doctor_id = $3`
		args = append(args, doctor.DoctorID)
	}
	query += ` ORDER BY slot_date, doctor_id, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []*AvailabilitySlot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

func (r *availabilityRepoPG) FindOne(ctx context.Context, doctorID string, start Label, date time.Time) (*AvailabilitySlot, error) {
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `
		SELECT `+availCols+` FROM availability_slot
		WHERE doctor_id = $1 AND start_time = $2 AND slot_date = $3`,
		doctorID, string(start), date))
}

// FindFirstOpen locks the chosen row so a concurrent wildcard booking moves
// on to the next doctor instead of waiting for this one.
func (r *availabilityRepoPG) FindFirstOpen(ctx context.Context, weekday int, start Label, date time.Time) (*AvailabilitySlot, error) {
	return r.scanSlot(r.conn(ctx).QueryRow(ctx, `
		SELECT `+availCols+` FROM availability_slot
		WHERE weekday = $1 AND start_time = $2 AND slot_date = $3
		ORDER BY doctor_id, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		weekday, string(start), date))
}

func (r *availabilityRepoPG) DeleteOne(ctx context.Context, doctorID string, start Label, date time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM availability_slot
		WHERE doctor_id = $1 AND start_time = $2 AND slot_date = $3`,
		doctorID, string(start), date)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *availabilityRepoPG) Insert(ctx context.Context, s *AvailabilitySlot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_slot (id, weekday, start_time, end_time, doctor_id, slot_date)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		s.ID, s.Weekday, string(s.StartTime), string(s.EndTime), s.DoctorID, s.Date).Scan(&s.CreatedAt)
	return conflict(err)
}

func (r *availabilityRepoPG) InsertIfAbsent(ctx context.Context, s *AvailabilitySlot) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_slot (id, weekday, start_time, end_time, doctor_id, slot_date)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (doctor_id, slot_date, start_time) DO NOTHING
		RETURNING created_at`,
		s.ID, s.Weekday, string(s.StartTime), string(s.EndTime), s.DoctorID, s.Date).Scan(&s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, weekday, start_time, end_time, doctor_id, patient_id, slot_date, created_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var (
		a          Appointment
		start, end string
	)
	if err := row.Scan(&a.ID, &a.Weekday, &start, &end, &a.DoctorID, &a.PatientID, &a.Date, &a.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	a.StartTime, a.EndTime = Label(start), Label(end)
	return &a, nil
}

func (r *appointmentRepoPG) FindByWeek(ctx context.Context, party Party, weekStart, weekEnd time.Time) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE slot_date BETWEEN $1 AND $2`
	args := []interface{}{weekStart, weekEnd}
	if party.DoctorID != "" {
		query += ` AND doctor_id = $3`
		args = append(args, party.DoctorID)
	} else {
		query += ` AND patient_id = $3`
		args = append(args, party.PatientID)
	}
	query += ` ORDER BY slot_date, doctor_id, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (r *appointmentRepoPG) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) FindBySlot(ctx context.Context, doctorID string, start Label, date time.Time) (*Appointment, error) {
	return r.scanAppt(r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND start_time = $2 AND slot_date = $3`,
		doctorID, string(start), date))
}

func (r *appointmentRepoPG) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, weekday, start_time, end_time, doctor_id, patient_id, slot_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		a.ID, a.Weekday, string(a.StartTime), string(a.EndTime), a.DoctorID, a.PatientID, a.Date).Scan(&a.CreatedAt)
	return conflict(err)
}

func (r *appointmentRepoPG) DeleteByID(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// conflict maps a unique violation on (doctor_id, slot_date, start_time) to
// ErrConflict; another transaction got there first.
func conflict(err error) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%v: %w", err, ErrConflict)
	}
	return err
}
