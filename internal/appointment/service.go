package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/rachcampitos/histora-sub001/internal/redis"
	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

var (
	ErrSlotConflict               = errors.New("interval overlaps an existing appointment for this provider")
	ErrSlotBeingBooked            = errors.New("provider day is currently being booked, please retry")
	ErrInvalidTransition          = errors.New("invalid appointment status transition")
	ErrCancellationReasonRequired = errors.New("cancellation requires a non-empty reason")
	ErrRescheduleNotAllowed       = errors.New("reschedule is only allowed while scheduled or confirmed")
	ErrInvalidInterval            = errors.New("appointment interval is invalid")
	ErrDateRequired               = errors.New("appointment date is required")
)

// Service is the appointment ledger. Booking and rescheduling writes for one
// provider-day are serialized through the locker, and the repository re-checks
// the overlap invariant at write time regardless, so a stale availableSlots
// snapshot can never produce a double booking.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
	}
}

// BookRequest carries everything needed to reserve a slot.
type BookRequest struct {
	ClinicID       uuid.UUID
	PatientID      uuid.UUID
	ProviderID     uuid.UUID
	Date           time.Time
	Slot           schedule.Interval
	BookedBy       BookedBy
	ReasonForVisit *string
	Notes          *string
}

// Book reserves the interval and creates the appointment in scheduled status.
// The conflict check runs inside the provider-day critical section, against
// current ledger state, not against whatever slot snapshot the caller saw.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if req.Date.IsZero() {
		return nil, ErrDateRequired
	}
	if !req.Slot.Valid() {
		return nil, ErrInvalidInterval
	}
	if req.BookedBy != BookedByClinic && req.BookedBy != BookedByPatient {
		req.BookedBy = BookedByClinic
	}

	date := normalizeDate(req.Date)

	var created *Appointment

	err := s.locker.WithBookingLock(ctx, req.ProviderID, date.Format(DateFormat), func(lockCtx context.Context) error {
		overlapping, err := s.repo.ListOverlapping(lockCtx, req.ProviderID, date, req.Slot, uuid.Nil)
		if err != nil {
			return fmt.Errorf("check overlapping appointments: %w", err)
		}
		if len(overlapping) > 0 {
			return ErrSlotConflict
		}

		appt := &Appointment{
			ClinicID:       req.ClinicID,
			PatientID:      req.PatientID,
			ProviderID:     req.ProviderID,
			Date:           date,
			Slot:           req.Slot,
			Status:         StatusScheduled,
			BookedBy:       req.BookedBy,
			ReasonForVisit: req.ReasonForVisit,
			Notes:          req.Notes,
		}
		if err := s.repo.Create(lockCtx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventBooked, map[string]any{
			"provider_id": req.ProviderID.String(),
			"patient_id":  req.PatientID.String(),
			"date":        date.Format(DateFormat),
			"interval":    req.Slot.String(),
			"booked_by":   string(req.BookedBy),
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", created.ID.String()),
		zap.String("provider_id", created.ProviderID.String()),
		zap.String("date", created.DateKey()),
		zap.String("interval", created.Slot.String()),
	)

	return created, nil
}

// Transition moves an appointment to target when the state machine allows it.
// Any transition into cancelled must carry a cancellation with a non-empty
// reason. Concurrent transitions on the same record resolve by compare-and-swap:
// the loser gets ErrStaleVersion.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, cancel *Cancellation) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(appt.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, target)
	}

	if target == StatusCancelled {
		if cancel == nil || cancel.Reason == "" {
			return nil, ErrCancellationReasonRequired
		}
		if cancel.At.IsZero() {
			cancel.At = time.Now().UTC()
		}
	} else {
		cancel = nil
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, target, appt.Version, cancel)
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventStatusChanged, map[string]any{
		"from": string(appt.Status),
		"to":   string(target),
	})

	return updated, nil
}

// Reschedule moves the appointment to a new date and interval. Only legal
// while scheduled or confirmed; the overlap invariant is re-checked for the
// target provider-day under its booking lock.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newDate time.Time, newSlot schedule.Interval) (*Appointment, error) {
	if newDate.IsZero() {
		return nil, ErrDateRequired
	}
	if !newSlot.Valid() {
		return nil, ErrInvalidInterval
	}

	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusScheduled && appt.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: status is %s", ErrRescheduleNotAllowed, appt.Status)
	}

	date := normalizeDate(newDate)

	var updated *Appointment

	err = s.locker.WithBookingLock(ctx, appt.ProviderID, date.Format(DateFormat), func(lockCtx context.Context) error {
		overlapping, err := s.repo.ListOverlapping(lockCtx, appt.ProviderID, date, newSlot, appt.ID)
		if err != nil {
			return fmt.Errorf("check overlapping appointments: %w", err)
		}
		if len(overlapping) > 0 {
			return ErrSlotConflict
		}

		updated, err = s.repo.UpdateSchedule(lockCtx, appt.ID, date, newSlot, appt.Version)
		if err != nil {
			return err
		}

		s.logEvent(lockCtx, appt.ID, EventRescheduled, map[string]any{
			"from_date":     appt.DateKey(),
			"from_interval": appt.Slot.String(),
			"to_date":       date.Format(DateFormat),
			"to_interval":   newSlot.String(),
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return updated, nil
}

// LinkConsultation records the back-reference to the clinical record opened
// for this appointment.
func (s *Service) LinkConsultation(ctx context.Context, id, consultationID uuid.UUID) error {
	return s.repo.SetConsultationID(ctx, id, consultationID)
}

// GetAppointment retrieves a single appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByProvider returns the provider's appointments for one date.
func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	return s.repo.ListByProviderDate(ctx, providerID, normalizeDate(date))
}

// ListByPatient returns all of a patient's appointments.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// BookedIntervals returns the reserved intervals for a provider-day, cancelled
// appointments excluded. This feeds the slot calendar.
func (s *Service) BookedIntervals(ctx context.Context, providerID uuid.UUID, date time.Time) ([]schedule.Interval, error) {
	appts, err := s.repo.ListByProviderDate(ctx, providerID, normalizeDate(date))
	if err != nil {
		return nil, err
	}

	var booked []schedule.Interval
	for _, a := range appts {
		if a.Status == StatusCancelled {
			continue
		}
		booked = append(booked, a.Slot)
	}
	return booked, nil
}

// MarkOverdueNoShows transitions scheduled or confirmed appointments that
// ended before the cutoff to no_show. Called periodically by the sweeper.
// Records that moved concurrently are skipped, not failed.
func (s *Service) MarkOverdueNoShows(ctx context.Context, cutoff time.Time) (int, error) {
	overdue, err := s.repo.FindOverdue(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		if !CanTransition(appt.Status, StatusNoShow) {
			continue
		}
		if _, err := s.repo.UpdateStatus(ctx, appt.ID, appt.Status, StatusNoShow, appt.Version, nil); err != nil {
			if errors.Is(err, ErrStaleVersion) || errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			s.log.Warn("failed to mark appointment no-show",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err),
			)
			continue
		}
		marked++
		s.logEvent(ctx, appt.ID, EventMarkedNoShow, map[string]any{
			"ended_at": appt.EndsAt().Format(time.RFC3339),
		})
	}

	return marked, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

// normalizeDate strips any time-of-day component, keeping the wall-clock day.
func normalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
