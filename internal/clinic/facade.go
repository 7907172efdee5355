package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rachcampitos/histora-sub001/internal/appointment"
	"github.com/rachcampitos/histora-sub001/internal/consultation"
	"github.com/rachcampitos/histora-sub001/internal/identity"
	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

// Facade orchestrates the two user journeys: book an appointment, and run a
// consultation from start to completion. Every operation takes the acting
// identity explicitly and checks it against the central capability table
// before touching either ledger. The two aggregates stay independent here:
// cancelling or completing one never cascades to the other.
type Facade struct {
	appointments  *appointment.Service
	consultations *consultation.Service
	hours         schedule.WorkingHours
	slotMinutes   int
	log           *zap.Logger
}

func NewFacade(appts *appointment.Service, consults *consultation.Service, hours schedule.WorkingHours, slotMinutes int, log *zap.Logger) *Facade {
	return &Facade{
		appointments:  appts,
		consultations: consults,
		hours:         hours,
		slotMinutes:   slotMinutes,
		log:           log,
	}
}

// AvailableSlots computes the free intervals for a provider-day from the
// working-hours template and the current non-cancelled bookings. The result is
// a snapshot; Book re-validates against live ledger state.
func (f *Facade) AvailableSlots(ctx context.Context, actor identity.Actor, providerID uuid.UUID, date time.Time) ([]schedule.Interval, error) {
	if err := actor.Require(identity.PermViewSlots); err != nil {
		return nil, err
	}

	booked, err := f.appointments.BookedIntervals(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("load booked intervals: %w", err)
	}

	return schedule.AvailableSlots(f.hours, f.slotMinutes, booked)
}

// BookAppointment reserves a slot. A caller holding a stale slot snapshot gets
// appointment.ErrSlotConflict, re-fetches and retries.
func (f *Facade) BookAppointment(ctx context.Context, actor identity.Actor, req appointment.BookRequest) (*appointment.Appointment, error) {
	if err := actor.Require(identity.PermBookAppointment); err != nil {
		return nil, err
	}
	return f.appointments.Book(ctx, req)
}

// TransitionAppointment applies one status change to an appointment.
func (f *Facade) TransitionAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID, target appointment.Status, cancellationReason string) (*appointment.Appointment, error) {
	if err := actor.Require(identity.PermTransitionAppt); err != nil {
		return nil, err
	}

	var cancel *appointment.Cancellation
	if target == appointment.StatusCancelled {
		cancel = &appointment.Cancellation{Reason: cancellationReason, By: actor.ID}
	}
	return f.appointments.Transition(ctx, id, target, cancel)
}

// RescheduleAppointment moves a scheduled or confirmed appointment.
func (f *Facade) RescheduleAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID, newDate time.Time, newSlot schedule.Interval) (*appointment.Appointment, error) {
	if err := actor.Require(identity.PermRescheduleAppt); err != nil {
		return nil, err
	}
	return f.appointments.Reschedule(ctx, id, newDate, newSlot)
}

// CancelAppointment cancels with a mandatory reason. An existing consultation
// for the encounter is left untouched.
func (f *Facade) CancelAppointment(ctx context.Context, actor identity.Actor, id uuid.UUID, reason string) (*appointment.Appointment, error) {
	if err := actor.Require(identity.PermCancelAppt); err != nil {
		return nil, err
	}
	return f.appointments.Transition(ctx, id, appointment.StatusCancelled, &appointment.Cancellation{
		Reason: reason,
		By:     actor.ID,
	})
}

// StartEncounter promotes the appointment to in-progress and makes sure an
// in-progress consultation exists for it: opened from the appointment when
// none does (identities copied, reason for visit seeding the chief complaint),
// otherwise the existing record is promoted.
func (f *Facade) StartEncounter(ctx context.Context, actor identity.Actor, appointmentID uuid.UUID) (*appointment.Appointment, *consultation.Consultation, error) {
	if err := actor.Require(identity.PermStartEncounter); err != nil {
		return nil, nil, err
	}

	// Check the linked record before touching the appointment so a dead
	// record never ends up paired with an in-progress appointment.
	record, err := f.consultations.GetByAppointment(ctx, appointmentID)
	switch {
	case err == nil:
		if record.Status != consultation.StatusScheduled && record.Status != consultation.StatusInProgress {
			return nil, nil, fmt.Errorf("consultation is %s: %w", record.Status, consultation.ErrInvalidTransition)
		}
	case errors.Is(err, consultation.ErrConsultationNotFound):
		record = nil
	default:
		return nil, nil, err
	}

	appt, err := f.appointments.Transition(ctx, appointmentID, appointment.StatusInProgress, nil)
	if err != nil {
		return nil, nil, err
	}

	if record == nil {
		record, err = f.consultations.Create(ctx, consultation.CreateRequest{
			ClinicID:      appt.ClinicID,
			PatientID:     appt.PatientID,
			ProviderID:    appt.ProviderID,
			AppointmentID: &appt.ID,
			SeedComplaint: appt.ReasonForVisit,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := f.appointments.LinkConsultation(ctx, appt.ID, record.ID); err != nil {
			return nil, nil, fmt.Errorf("link consultation: %w", err)
		}
		appt.ConsultationID = &record.ID
	}
	if record.Status == consultation.StatusScheduled {
		record, err = f.consultations.Transition(ctx, record.ID, consultation.StatusInProgress, "")
		if err != nil {
			return nil, nil, err
		}
	}

	f.log.Info("encounter started",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("consultation_id", record.ID.String()),
	)

	return appt, record, nil
}

// CreateConsultationFromAppointment opens a clinical record for an existing
// appointment without changing the appointment's status. Identities are
// copied; the reason for visit seeds the chief complaint when the caller does
// not supply one.
func (f *Facade) CreateConsultationFromAppointment(ctx context.Context, actor identity.Actor, appointmentID uuid.UUID, chiefComplaint string) (*consultation.Consultation, error) {
	if err := actor.Require(identity.PermStartEncounter); err != nil {
		return nil, err
	}

	appt, err := f.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	record, err := f.consultations.Create(ctx, consultation.CreateRequest{
		ClinicID:       appt.ClinicID,
		PatientID:      appt.PatientID,
		ProviderID:     appt.ProviderID,
		AppointmentID:  &appt.ID,
		ChiefComplaint: chiefComplaint,
		SeedComplaint:  appt.ReasonForVisit,
	})
	if err != nil {
		return nil, err
	}

	if err := f.appointments.LinkConsultation(ctx, appt.ID, record.ID); err != nil {
		return nil, fmt.Errorf("link consultation: %w", err)
	}

	return record, nil
}

// CompleteEncounter finalizes the consultation, applying an optional last
// patch (treatment plan, notes, follow-up) before the compliance gate runs.
// The originating appointment is deliberately not completed here; closing it
// is a separate, explicit call.
func (f *Facade) CompleteEncounter(ctx context.Context, actor identity.Actor, consultationID uuid.UUID, finalPatch *consultation.Patch) (*consultation.Consultation, error) {
	if err := actor.Require(identity.PermCompleteEncounter); err != nil {
		return nil, err
	}

	if finalPatch != nil {
		if _, err := f.consultations.Update(ctx, consultationID, *finalPatch); err != nil {
			return nil, err
		}
	}

	return f.consultations.Transition(ctx, consultationID, consultation.StatusCompleted, "")
}

// CancelConsultation cancels the clinical record only; the appointment, if
// any, keeps its own status.
func (f *Facade) CancelConsultation(ctx context.Context, actor identity.Actor, consultationID uuid.UUID, reason string) (*consultation.Consultation, error) {
	if err := actor.Require(identity.PermCancelConsultation); err != nil {
		return nil, err
	}
	return f.consultations.Transition(ctx, consultationID, consultation.StatusCancelled, reason)
}
