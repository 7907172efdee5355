package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

// DateFormat is the wall-clock day key used for lock keys and queries.
const DateFormat = "2006-01-02"

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// ParseStatus validates a status string from a request.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusScheduled, StatusConfirmed, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(s), true
	}
	return "", false
}

// transitions is the appointment state machine. Statuses absent from the map
// are terminal.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether target is reachable from current. It depends
// only on the two statuses, never on call history.
func CanTransition(current, target Status) bool {
	for _, next := range transitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

type BookedBy string

const (
	BookedByClinic  BookedBy = "clinic"
	BookedByPatient BookedBy = "patient"
)

func ParseBookedBy(s string) (BookedBy, bool) {
	switch BookedBy(s) {
	case BookedByClinic, BookedByPatient:
		return BookedBy(s), true
	}
	return "", false
}

// Appointment reserves a [start,end) interval of a provider's day for a
// patient. It never gets hard-deleted; it is cancelled or soft-deleted.
type Appointment struct {
	ID         uuid.UUID
	ClinicID   uuid.UUID
	PatientID  uuid.UUID
	ProviderID uuid.UUID

	Date time.Time // date only, midnight UTC
	Slot schedule.Interval

	Status   Status
	BookedBy BookedBy

	ReasonForVisit *string
	Notes          *string

	// ConsultationID links the clinical record opened for this encounter, if
	// any. Neither aggregate owns the other's lifecycle.
	ConsultationID *uuid.UUID

	CancellationReason *string
	CancelledBy        *uuid.UUID
	CancelledAt        *time.Time

	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// DateKey returns the provider-day key, e.g. "2025-03-10".
func (a *Appointment) DateKey() string {
	return a.Date.Format(DateFormat)
}

// EndsAt returns the absolute wall-clock end of the reserved interval.
func (a *Appointment) EndsAt() time.Time {
	return a.Date.Add(time.Duration(a.Slot.End) * time.Minute)
}

// Cancellation carries the mandatory details for any transition into cancelled.
type Cancellation struct {
	Reason string
	By     uuid.UUID
	At     time.Time
}

// Audit event types recorded on the appointment ledger.
const (
	EventBooked        = "APPOINTMENT_BOOKED"
	EventStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventRescheduled   = "APPOINTMENT_RESCHEDULED"
	EventMarkedNoShow  = "APPOINTMENT_MARKED_NO_SHOW"
)

// EventLog is an append-only audit record.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
