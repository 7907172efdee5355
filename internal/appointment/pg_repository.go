package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

// exclusionConstraint is the btree_gist constraint on appointments that keeps
// non-cancelled intervals per provider-day pairwise disjoint (scripts/schema.sql).
const exclusionConstraint = "appointments_no_overlap"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, clinic_id, patient_id, provider_id, date, start_min, end_min,
	status, booked_by, reason_for_visit, notes, consultation_id,
	cancellation_reason, cancelled_by, cancelled_at,
	is_deleted, created_at, updated_at, version
`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var startMin, endMin int

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.PatientID,
		&a.ProviderID,
		&a.Date,
		&startMin,
		&endMin,
		&a.Status,
		&a.BookedBy,
		&a.ReasonForVisit,
		&a.Notes,
		&a.ConsultationID,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.CancelledAt,
		&a.IsDeleted,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Slot = schedule.Interval{Start: schedule.TimeOfDay(startMin), End: schedule.TimeOfDay(endMin)}
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, clinic_id, patient_id, provider_id, date, start_min, end_min,
			status, booked_by, reason_for_visit, notes,
			is_deleted, created_at, updated_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false, now(), now(), 1)
		RETURNING `+appointmentColumns,
		a.ID, a.ClinicID, a.PatientID, a.ProviderID, a.Date,
		int(a.Slot.Start), int(a.Slot.End),
		a.Status, a.BookedBy, a.ReasonForVisit, a.Notes,
	)

	created, err := scanAppointment(row)
	if err != nil {
		if isOverlapViolation(err) {
			return ErrSlotConflict
		}
		return err
	}

	*a = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND NOT is_deleted
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListOverlapping(ctx context.Context, providerID uuid.UUID, date time.Time, iv schedule.Interval, excludeID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND date = $2
		  AND status <> 'cancelled'
		  AND NOT is_deleted
		  AND start_min < $4
		  AND end_min > $3
		  AND id <> $5
		ORDER BY start_min
	`, providerID, date, int(iv.Start), int(iv.End), excludeID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ListByProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND date = $2 AND NOT is_deleted
		ORDER BY start_min
	`, providerID, date)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND NOT is_deleted
		ORDER BY date, start_min
	`, patientID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int, cancel *Cancellation) (*Appointment, error) {
	var reason *string
	var by *uuid.UUID
	var at *time.Time
	if cancel != nil {
		reason = &cancel.Reason
		by = &cancel.By
		at = &cancel.At
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = COALESCE($5, cancellation_reason),
		    cancelled_by = COALESCE($6, cancelled_by),
		    cancelled_at = COALESCE($7, cancelled_at),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		  AND version = $4
		  AND NOT is_deleted
		RETURNING `+appointmentColumns,
		id, to, from, version, reason, by, at,
	)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.casFailure(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) UpdateSchedule(ctx context.Context, id uuid.UUID, newDate time.Time, newSlot schedule.Interval, version int) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_min = $3,
		    end_min = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $5
		  AND NOT is_deleted
		RETURNING `+appointmentColumns,
		id, newDate, int(newSlot.Start), int(newSlot.End), version,
	)

	updated, err := scanAppointment(row)
	if err != nil {
		if isOverlapViolation(err) {
			return nil, ErrSlotConflict
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, r.casFailure(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

func (r *PgRepository) SetConsultationID(ctx context.Context, id, consultationID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET consultation_id = $2,
		    updated_at = now()
		WHERE id = $1 AND NOT is_deleted
	`, id, consultationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET is_deleted = true,
		    updated_at = now()
		WHERE id = $1 AND NOT is_deleted
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) FindOverdue(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('scheduled', 'confirmed')
		  AND NOT is_deleted
		  AND date + make_interval(mins => end_min) < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// casFailure distinguishes a missing row from a concurrent modification after
// a compare-and-swap update matched nothing.
func (r *PgRepository) casFailure(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrStaleVersion
}

func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.ConstraintName == exclusionConstraint
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
