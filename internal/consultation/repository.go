package consultation

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrConsultationNotFound = errors.New("consultation not found")
	// ErrStaleVersion means a compare-and-swap update found the record already
	// changed by a concurrent caller.
	ErrStaleVersion = errors.New("consultation was modified concurrently")
)

// Repository contains all DB interactions needed by the record service.
type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Consultation, error)

	// Update persists the whole aggregate with a compare-and-swap on Version;
	// ErrStaleVersion when the stored version moved.
	Update(ctx context.Context, c *Consultation) error

	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Consultation, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
