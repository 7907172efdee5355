package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	// ErrStaleVersion means a compare-and-swap update found the record already
	// changed by a concurrent caller.
	ErrStaleVersion = errors.New("appointment was modified concurrently")
)

// Repository contains all DB interactions needed by the ledger.
//
// Create must enforce the non-overlap invariant at the write boundary: even
// though the service re-checks under the booking lock, the store is the final
// arbiter and returns ErrSlotConflict when the interval intersects a
// non-cancelled appointment for the same provider and date.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListOverlapping returns non-cancelled, non-deleted appointments for the
	// provider-day whose interval intersects iv. excludeID skips one
	// appointment (the one being rescheduled); pass uuid.Nil to skip none.
	ListOverlapping(ctx context.Context, providerID uuid.UUID, date time.Time, iv schedule.Interval, excludeID uuid.UUID) ([]Appointment, error)

	ListByProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)

	// UpdateStatus is a compare-and-swap: the row is updated only while it
	// still carries the expected status and version. ErrStaleVersion when the
	// record moved underneath the caller.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, version int, cancel *Cancellation) (*Appointment, error)

	// UpdateSchedule moves the reserved interval, same CAS rules as
	// UpdateStatus. The store re-enforces non-overlap for the new interval.
	UpdateSchedule(ctx context.Context, id uuid.UUID, newDate time.Time, newSlot schedule.Interval, version int) (*Appointment, error)

	SetConsultationID(ctx context.Context, id, consultationID uuid.UUID) error
	SoftDelete(ctx context.Context, id uuid.UUID) error

	// FindOverdue returns scheduled or confirmed appointments whose interval
	// ended before the cutoff. Used by the no-show sweeper.
	FindOverdue(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
