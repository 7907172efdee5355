package clinic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rachcampitos/histora-sub001/internal/appointment"
	"github.com/rachcampitos/histora-sub001/internal/consultation"
	"github.com/rachcampitos/histora-sub001/internal/identity"
	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

type apptMemRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*appointment.Appointment
}

func newApptMemRepo() *apptMemRepo {
	return &apptMemRepo{appts: make(map[uuid.UUID]*appointment.Appointment)}
}

func (r *apptMemRepo) overlapping(providerID uuid.UUID, date time.Time, iv schedule.Interval, excludeID uuid.UUID) []appointment.Appointment {
	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.ProviderID != providerID || !a.Date.Equal(date) {
			continue
		}
		if a.ID == excludeID || a.Status == appointment.StatusCancelled || a.IsDeleted {
			continue
		}
		if a.Slot.Overlaps(iv) {
			out = append(out, *a)
		}
	}
	return out
}

func (r *apptMemRepo) Create(ctx context.Context, a *appointment.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.overlapping(a.ProviderID, a.Date, a.Slot, uuid.Nil)) > 0 {
		return appointment.ErrSlotConflict
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Version = 1
	cp := *a
	r.appts[a.ID] = &cp
	return nil
}

func (r *apptMemRepo) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || a.IsDeleted {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *apptMemRepo) ListOverlapping(ctx context.Context, providerID uuid.UUID, date time.Time, iv schedule.Interval, excludeID uuid.UUID) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlapping(providerID, date, iv, excludeID), nil
}

func (r *apptMemRepo) ListByProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.ProviderID == providerID && a.Date.Equal(date) && !a.IsDeleted {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *apptMemRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]appointment.Appointment, error) {
	return nil, nil
}

func (r *apptMemRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to appointment.Status, version int, cancel *appointment.Cancellation) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || a.IsDeleted {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status != from || a.Version != version {
		return nil, appointment.ErrStaleVersion
	}
	a.Status = to
	a.Version++
	if cancel != nil {
		a.CancellationReason = &cancel.Reason
		by := cancel.By
		a.CancelledBy = &by
		at := cancel.At
		a.CancelledAt = &at
	}
	cp := *a
	return &cp, nil
}

func (r *apptMemRepo) UpdateSchedule(ctx context.Context, id uuid.UUID, newDate time.Time, newSlot schedule.Interval, version int) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || a.IsDeleted {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Version != version {
		return nil, appointment.ErrStaleVersion
	}
	if len(r.overlapping(a.ProviderID, newDate, newSlot, a.ID)) > 0 {
		return nil, appointment.ErrSlotConflict
	}
	a.Date = newDate
	a.Slot = newSlot
	a.Version++
	cp := *a
	return &cp, nil
}

func (r *apptMemRepo) SetConsultationID(ctx context.Context, id, consultationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	a.ConsultationID = &consultationID
	return nil
}

func (r *apptMemRepo) SoftDelete(ctx context.Context, id uuid.UUID) error { return nil }

func (r *apptMemRepo) FindOverdue(ctx context.Context, cutoff time.Time) ([]appointment.Appointment, error) {
	return nil, nil
}

func (r *apptMemRepo) InsertEvent(ctx context.Context, ev appointment.EventLog) error { return nil }

type consultMemRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*consultation.Consultation
}

func newConsultMemRepo() *consultMemRepo {
	return &consultMemRepo{records: make(map[uuid.UUID]*consultation.Consultation)}
}

func (r *consultMemRepo) Create(ctx context.Context, c *consultation.Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Version = 1
	cp := *c
	r.records[c.ID] = &cp
	return nil
}

func (r *consultMemRepo) GetByID(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.records[id]
	if !ok || c.IsDeleted {
		return nil, consultation.ErrConsultationNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *consultMemRepo) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*consultation.Consultation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.records {
		if c.AppointmentID != nil && *c.AppointmentID == appointmentID && !c.IsDeleted {
			cp := *c
			return &cp, nil
		}
	}
	return nil, consultation.ErrConsultationNotFound
}

func (r *consultMemRepo) Update(ctx context.Context, c *consultation.Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[c.ID]
	if !ok || stored.IsDeleted {
		return consultation.ErrConsultationNotFound
	}
	if stored.Version != c.Version {
		return consultation.ErrStaleVersion
	}
	c.Version++
	cp := *c
	r.records[c.ID] = &cp
	return nil
}

func (r *consultMemRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]consultation.Consultation, error) {
	return nil, nil
}

func (r *consultMemRepo) SoftDelete(ctx context.Context, id uuid.UUID) error { return nil }

func (r *consultMemRepo) InsertEvent(ctx context.Context, ev consultation.EventLog) error { return nil }

type passLocker struct{}

func (passLocker) WithBookingLock(ctx context.Context, providerID uuid.UUID, date string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	facade     *Facade
	consults   *consultation.Service
	admin      identity.Actor
	provider   identity.Actor
	patient    identity.Actor
	providerID uuid.UUID
	patientID  uuid.UUID
	clinicID   uuid.UUID
	date       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := zap.NewNop()
	apptSvc := appointment.NewService(newApptMemRepo(), passLocker{}, log)
	consultSvc := consultation.NewService(newConsultMemRepo(), log)

	hours, err := schedule.ParseWorkingHours("08:00", "10:00")
	require.NoError(t, err)

	return &fixture{
		facade:     NewFacade(apptSvc, consultSvc, hours, 30, log),
		consults:   consultSvc,
		admin:      identity.Actor{ID: uuid.New(), Role: identity.RoleClinicAdmin},
		provider:   identity.Actor{ID: uuid.New(), Role: identity.RoleProvider},
		patient:    identity.Actor{ID: uuid.New(), Role: identity.RolePatient},
		providerID: uuid.New(),
		patientID:  uuid.New(),
		clinicID:   uuid.New(),
		date:       time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) slot(t *testing.T, start, end string) schedule.Interval {
	t.Helper()
	s, err := schedule.ParseTimeOfDay(start)
	require.NoError(t, err)
	e, err := schedule.ParseTimeOfDay(end)
	require.NoError(t, err)
	return schedule.Interval{Start: s, End: e}
}

func (f *fixture) book(t *testing.T, start, end string) *appointment.Appointment {
	t.Helper()
	reason := "persistent cough"
	appt, err := f.facade.BookAppointment(context.Background(), f.admin, appointment.BookRequest{
		ClinicID:       f.clinicID,
		PatientID:      f.patientID,
		ProviderID:     f.providerID,
		Date:           f.date,
		Slot:           f.slot(t, start, end),
		BookedBy:       appointment.BookedByClinic,
		ReasonForVisit: &reason,
	})
	require.NoError(t, err)
	return appt
}

// The whole journey: check availability, book, confirm, start the encounter,
// document, hit the completion gate, then complete.
func TestEncounterJourney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots, err := f.facade.AvailableSlots(ctx, f.patient, f.providerID, f.date)
	require.NoError(t, err)
	assert.Len(t, slots, 4)

	appt := f.book(t, "08:00", "08:30")

	// The booked slot is gone from the next snapshot.
	slots, err = f.facade.AvailableSlots(ctx, f.patient, f.providerID, f.date)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
	assert.NotContains(t, slots, appt.Slot)

	appt, err = f.facade.TransitionAppointment(ctx, f.admin, appt.ID, appointment.StatusConfirmed, "")
	require.NoError(t, err)

	appt, record, err := f.facade.StartEncounter(ctx, f.provider, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusInProgress, appt.Status)
	assert.Equal(t, consultation.StatusInProgress, record.Status)
	assert.Equal(t, "persistent cough", record.ChiefComplaint)
	assert.Equal(t, f.patientID, record.PatientID)
	require.NotNil(t, appt.ConsultationID)
	assert.Equal(t, record.ID, *appt.ConsultationID)

	// Completing before the record is documented fails the gate.
	_, err = f.facade.CompleteEncounter(ctx, f.provider, record.ID, nil)
	assert.ErrorIs(t, err, consultation.ErrIncompleteRecord)

	hpi := "productive cough for ten days, worse at night"
	_, err = f.consults.Update(ctx, record.ID, consultation.Patch{HistoryOfPresentIllness: &hpi})
	require.NoError(t, err)
	_, err = f.consults.AddDiagnosis(ctx, record.ID, consultation.Diagnosis{
		Code: "J20.9", Description: "Acute bronchitis", Type: consultation.DiagnosisPrincipal,
	})
	require.NoError(t, err)

	plan := "amoxicillin 500mg TID for 7 days"
	done, err := f.facade.CompleteEncounter(ctx, f.provider, record.ID, &consultation.Patch{TreatmentPlan: &plan})
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusCompleted, done.Status)
	require.NotNil(t, done.TreatmentPlan)
	assert.Equal(t, plan, *done.TreatmentPlan)

	// Completing the record does not close the appointment.
	appt, err = f.facade.TransitionAppointment(ctx, f.admin, appt.ID, appointment.StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, appt.Status)
}

func TestStartEncounterPromotesExistingRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00", "08:30")

	record, err := f.facade.CreateConsultationFromAppointment(ctx, f.provider, appt.ID, "follow-up visit")
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusScheduled, record.Status)
	assert.Equal(t, "follow-up visit", record.ChiefComplaint)

	// The appointment is untouched by record creation.
	got, err := f.facade.TransitionAppointment(ctx, f.admin, appt.ID, appointment.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)

	_, started, err := f.facade.StartEncounter(ctx, f.provider, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, started.ID)
	assert.Equal(t, consultation.StatusInProgress, started.Status)
}

func TestCancelAppointmentLeavesConsultationAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00", "08:30")
	record, err := f.facade.CreateConsultationFromAppointment(ctx, f.provider, appt.ID, "annual physical")
	require.NoError(t, err)

	cancelled, err := f.facade.CancelAppointment(ctx, f.admin, appt.ID, "patient travelling")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, f.admin.ID, *cancelled.CancelledBy)

	got, err := f.consults.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusScheduled, got.Status)
}

func TestStartEncounterRejectsTerminalRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00", "08:30")
	record, err := f.facade.CreateConsultationFromAppointment(ctx, f.provider, appt.ID, "annual physical")
	require.NoError(t, err)

	_, err = f.facade.CancelConsultation(ctx, f.provider, record.ID, "duplicate record")
	require.NoError(t, err)

	_, _, err = f.facade.StartEncounter(ctx, f.provider, appt.ID)
	require.ErrorIs(t, err, consultation.ErrInvalidTransition)

	// The appointment must not have been promoted on the failed start.
	got, err := f.facade.TransitionAppointment(ctx, f.admin, appt.ID, appointment.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)
}

func TestCancelConsultationLeavesAppointmentAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:30", "09:00")
	record, err := f.facade.CreateConsultationFromAppointment(ctx, f.provider, appt.ID, "annual physical")
	require.NoError(t, err)

	cancelled, err := f.facade.CancelConsultation(ctx, f.provider, record.ID, "duplicate record")
	require.NoError(t, err)
	assert.Equal(t, consultation.StatusCancelled, cancelled.Status)

	got, err := f.facade.TransitionAppointment(ctx, f.admin, appt.ID, appointment.StatusConfirmed, "")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)
}

func TestRescheduleThroughFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, "08:00", "08:30")

	moved, err := f.facade.RescheduleAppointment(ctx, f.admin, appt.ID, f.date, f.slot(t, "09:00", "09:30"))
	require.NoError(t, err)
	assert.Equal(t, f.slot(t, "09:00", "09:30"), moved.Slot)

	// The vacated slot is offered again.
	slots, err := f.facade.AvailableSlots(ctx, f.patient, f.providerID, f.date)
	require.NoError(t, err)
	assert.Contains(t, slots, f.slot(t, "08:00", "08:30"))
	assert.NotContains(t, slots, f.slot(t, "09:00", "09:30"))
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Patients book and cancel but never run encounters.
	_, err := f.facade.BookAppointment(ctx, f.patient, appointment.BookRequest{
		ClinicID:   f.clinicID,
		PatientID:  f.patientID,
		ProviderID: f.providerID,
		Date:       f.date,
		Slot:       f.slot(t, "08:00", "08:30"),
		BookedBy:   appointment.BookedByPatient,
	})
	require.NoError(t, err)

	appt := f.book(t, "09:00", "09:30")

	_, _, err = f.facade.StartEncounter(ctx, f.patient, appt.ID)
	assert.ErrorIs(t, err, identity.ErrPermissionDenied)

	_, err = f.facade.CompleteEncounter(ctx, f.patient, uuid.New(), nil)
	assert.ErrorIs(t, err, identity.ErrPermissionDenied)

	_, err = f.facade.CreateConsultationFromAppointment(ctx, f.admin, appt.ID, "")
	assert.ErrorIs(t, err, identity.ErrPermissionDenied)

	_, err = f.facade.AvailableSlots(ctx, identity.Actor{ID: uuid.New(), Role: identity.Role("visitor")}, f.providerID, f.date)
	assert.ErrorIs(t, err, identity.ErrPermissionDenied)
}
