package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rachcampitos/histora-sub001/internal/appointment"
	"github.com/rachcampitos/histora-sub001/internal/clinic"
	"github.com/rachcampitos/histora-sub001/internal/consultation"
	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

// Repo stubs embed the interface; only the methods the routes under test
// reach are implemented.

type apptRepoStub struct {
	appointment.Repository
	appts map[uuid.UUID]*appointment.Appointment
}

func newApptRepoStub() *apptRepoStub {
	return &apptRepoStub{appts: make(map[uuid.UUID]*appointment.Appointment)}
}

func (r *apptRepoStub) Create(ctx context.Context, a *appointment.Appointment) error {
	for _, other := range r.appts {
		if other.ProviderID == a.ProviderID && other.Date.Equal(a.Date) &&
			other.Status != appointment.StatusCancelled && other.Slot.Overlaps(a.Slot) {
			return appointment.ErrSlotConflict
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Version = 1
	cp := *a
	r.appts[a.ID] = &cp
	return nil
}

func (r *apptRepoStub) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *apptRepoStub) ListOverlapping(ctx context.Context, providerID uuid.UUID, date time.Time, iv schedule.Interval, excludeID uuid.UUID) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.ProviderID == providerID && a.Date.Equal(date) && a.ID != excludeID &&
			a.Status != appointment.StatusCancelled && a.Slot.Overlaps(iv) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *apptRepoStub) ListByProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.ProviderID == providerID && a.Date.Equal(date) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *apptRepoStub) UpdateStatus(ctx context.Context, id uuid.UUID, from, to appointment.Status, version int, cancel *appointment.Cancellation) (*appointment.Appointment, error) {
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status != from || a.Version != version {
		return nil, appointment.ErrStaleVersion
	}
	a.Status = to
	a.Version++
	cp := *a
	return &cp, nil
}

func (r *apptRepoStub) UpdateSchedule(ctx context.Context, id uuid.UUID, date time.Time, slot schedule.Interval, version int) (*appointment.Appointment, error) {
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Version != version {
		return nil, appointment.ErrStaleVersion
	}
	a.Date = date
	a.Slot = slot
	a.Version++
	cp := *a
	return &cp, nil
}

func (r *apptRepoStub) SetConsultationID(ctx context.Context, id, consultationID uuid.UUID) error {
	a, ok := r.appts[id]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	a.ConsultationID = &consultationID
	return nil
}

func (r *apptRepoStub) InsertEvent(ctx context.Context, ev appointment.EventLog) error { return nil }

type consultRepoStub struct {
	consultation.Repository
	records map[uuid.UUID]*consultation.Consultation
}

func newConsultRepoStub() *consultRepoStub {
	return &consultRepoStub{records: make(map[uuid.UUID]*consultation.Consultation)}
}

func (r *consultRepoStub) Create(ctx context.Context, c *consultation.Consultation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Version = 1
	cp := *c
	r.records[c.ID] = &cp
	return nil
}

func (r *consultRepoStub) GetByID(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	c, ok := r.records[id]
	if !ok {
		return nil, consultation.ErrConsultationNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *consultRepoStub) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*consultation.Consultation, error) {
	for _, c := range r.records {
		if c.AppointmentID != nil && *c.AppointmentID == appointmentID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, consultation.ErrConsultationNotFound
}

func (r *consultRepoStub) Update(ctx context.Context, c *consultation.Consultation) error {
	stored, ok := r.records[c.ID]
	if !ok {
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

func (r *consultRepoStub) InsertEvent(ctx context.Context, ev consultation.EventLog) error {
	return nil
}

type passLocker struct{}

func (passLocker) WithBookingLock(ctx context.Context, providerID uuid.UUID, date string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return routerFor(t, newApptRepoStub(), newConsultRepoStub())
}

func routerFor(t *testing.T, apptRepo appointment.Repository, consultRepo consultation.Repository) http.Handler {
	t.Helper()

	log := zap.NewNop()
	apptSvc := appointment.NewService(apptRepo, passLocker{}, log)
	consultSvc := consultation.NewService(consultRepo, log)

	hours, err := schedule.ParseWorkingHours("08:00", "12:00")
	require.NoError(t, err)

	facade := clinic.NewFacade(apptSvc, consultSvc, hours, 30, log)

	return NewRouter(RouterConfig{
		Facade:        facade,
		Appointments:  apptSvc,
		Consultations: consultSvc,
		Log:           log,
		Env:           "test",
		Version:       "test",
	})
}

func doJSON(t *testing.T, router http.Handler, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Actor-ID", uuid.NewString())
		req.Header.Set("X-Actor-Role", role)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func bookBody(providerID, patientID uuid.UUID, date, start, end string) map[string]any {
	return map[string]any{
		"clinic_id":   uuid.NewString(),
		"patient_id":  patientID.String(),
		"provider_id": providerID.String(),
		"date":        date,
		"start_time":  start,
		"end_time":    end,
		"booked_by":   "clinic",
	}
}

func bookOne(t *testing.T, router http.Handler, providerID uuid.UUID, start, end string) AppointmentResponse {
	t.Helper()

	rec := doJSON(t, router, "POST", "/appointments", "clinic_admin",
		bookBody(providerID, uuid.New(), "2025-03-10", start, end))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// downRepo simulates a storage outage: every read fails the way a dead
// connection does.
type downRepo struct {
	appointment.Repository
}

func (downRepo) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return nil, fmt.Errorf("load appointment: %w", &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: syscall.ECONNREFUSED,
	})
}

// brokenRepo fails with an error outside the domain and infrastructure
// taxonomy.
type brokenRepo struct {
	appointment.Repository
}

func (brokenRepo) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return nil, errors.New("scan row: column count mismatch in dest")
}

func TestStorageOutageReturns503(t *testing.T) {
	router := routerFor(t, downRepo{}, newConsultRepoStub())

	rec := doJSON(t, router, "GET", "/appointments/"+uuid.NewString(), "clinic_admin", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "persistence_unavailable", errResp.Error)
}

func TestUnexpectedErrorDoesNotLeakDetails(t *testing.T) {
	router := routerFor(t, brokenRepo{}, newConsultRepoStub())

	rec := doJSON(t, router, "GET", "/appointments/"+uuid.NewString(), "clinic_admin", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "internal_error", errResp.Error)
	assert.NotContains(t, rec.Body.String(), "column count")
}

func TestLiveness(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBookEndpoint(t *testing.T) {
	router := newTestRouter(t)

	resp := bookOne(t, router, uuid.New(), "09:00", "09:30")
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, "2025-03-10", resp.Date)
	assert.Equal(t, "09:00", resp.StartTime)
	assert.Equal(t, "09:30", resp.EndTime)
}

func TestBookConflictReturns409(t *testing.T) {
	router := newTestRouter(t)
	providerID := uuid.New()

	bookOne(t, router, providerID, "09:00", "09:30")

	rec := doJSON(t, router, "POST", "/appointments", "clinic_admin",
		bookBody(providerID, uuid.New(), "2025-03-10", "09:15", "09:45"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "slot_conflict", errResp.Error)
}

func TestBookValidation(t *testing.T) {
	router := newTestRouter(t)

	// Missing actor headers.
	rec := doJSON(t, router, "POST", "/appointments", "",
		bookBody(uuid.New(), uuid.New(), "2025-03-10", "09:00", "09:30"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Bad date.
	rec = doJSON(t, router, "POST", "/appointments", "clinic_admin",
		bookBody(uuid.New(), uuid.New(), "March 10", "09:00", "09:30"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Inverted interval.
	rec = doJSON(t, router, "POST", "/appointments", "clinic_admin",
		bookBody(uuid.New(), uuid.New(), "2025-03-10", "09:30", "09:00"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlotsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	providerID := uuid.New()

	bookOne(t, router, providerID, "08:00", "08:30")

	rec := doJSON(t, router, "GET", fmt.Sprintf("/providers/%s/slots?date=2025-03-10", providerID), "patient", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var slots []SlotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	// 08:00-12:00 at 30 minutes is 8 candidates; one is taken.
	assert.Len(t, slots, 7)
	assert.NotContains(t, slots, SlotResponse{StartTime: "08:00", EndTime: "08:30"})
}

func TestGetAppointmentNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "GET", "/appointments/"+uuid.NewString(), "clinic_admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "appointment_not_found", errResp.Error)
}

func TestTransitionEndpoint(t *testing.T) {
	router := newTestRouter(t)
	appt := bookOne(t, router, uuid.New(), "09:00", "09:30")

	rec := doJSON(t, router, "PATCH", "/appointments/"+appt.ID.String()+"/status", "clinic_admin",
		map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Status)

	// An unknown status is a request error, an illegal move is a conflict.
	rec = doJSON(t, router, "PATCH", "/appointments/"+appt.ID.String()+"/status", "clinic_admin",
		map[string]string{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "PATCH", "/appointments/"+appt.ID.String()+"/status", "clinic_admin",
		map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_status_transition", errResp.Error)
}

func TestCancelEndpointRequiresReason(t *testing.T) {
	router := newTestRouter(t)
	appt := bookOne(t, router, uuid.New(), "09:00", "09:30")

	rec := doJSON(t, router, "PATCH", "/appointments/"+appt.ID.String()+"/cancel", "clinic_admin",
		map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, "PATCH", "/appointments/"+appt.ID.String()+"/cancel", "clinic_admin",
		map[string]string{"cancellation_reason": "patient request"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartEncounterEndpoint(t *testing.T) {
	router := newTestRouter(t)
	appt := bookOne(t, router, uuid.New(), "09:00", "09:30")

	// Only providers run encounters.
	rec := doJSON(t, router, "POST", "/appointments/"+appt.ID.String()+"/start", "patient", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, "POST", "/appointments/"+appt.ID.String()+"/start", "provider", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp StartEncounterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "in_progress", resp.Appointment.Status)
	assert.Equal(t, "in_progress", resp.Consultation.Status)
	require.NotNil(t, resp.Appointment.ConsultationID)
	assert.Equal(t, resp.Consultation.ID, *resp.Appointment.ConsultationID)
}

func TestConsultationDocumentationFlow(t *testing.T) {
	router := newTestRouter(t)
	appt := bookOne(t, router, uuid.New(), "09:00", "09:30")

	rec := doJSON(t, router, "POST", "/appointments/"+appt.ID.String()+"/start", "provider", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var started StartEncounterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	id := started.Consultation.ID.String()

	// Completing an undocumented record fails the compliance gate.
	rec = doJSON(t, router, "POST", "/consultations/"+id+"/complete", "provider", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "incomplete_record", errResp.Error)

	rec = doJSON(t, router, "PATCH", "/consultations/"+id, "provider", map[string]any{
		"chief_complaint":            "lower back pain",
		"history_of_present_illness": "after lifting, three days ago",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "POST", "/consultations/"+id+"/diagnoses", "provider", map[string]any{
		"code": "M54.5", "description": "Low back pain", "type": "principal",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, "POST", "/consultations/"+id+"/complete", "provider", map[string]any{
		"treatment_plan": "rest, NSAIDs, physiotherapy referral",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var done ConsultationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, "completed", done.Status)
	require.Len(t, done.Diagnoses, 1)

	// Closed records reject further edits.
	rec = doJSON(t, router, "POST", "/consultations/"+id+"/prescriptions", "provider", map[string]any{
		"medication": "Ibuprofen", "dosage": "400mg", "frequency": "TID", "duration": "5 days", "route": "oral",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConsultationEditRequiresProviderRole(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, "PATCH", "/consultations/"+uuid.NewString(), "patient", map[string]any{
		"clinical_notes": "hello",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRemoveDiagnosisIndexOutOfRange(t *testing.T) {
	router := newTestRouter(t)
	appt := bookOne(t, router, uuid.New(), "09:00", "09:30")

	rec := doJSON(t, router, "POST", "/appointments/"+appt.ID.String()+"/start", "provider", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var started StartEncounterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	rec = doJSON(t, router, "DELETE", "/consultations/"+started.Consultation.ID.String()+"/diagnoses/4", "provider", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "index_out_of_range", errResp.Error)
}

func TestRescheduleEndpoint(t *testing.T) {
	router := newTestRouter(t)
	providerID := uuid.New()
	appt := bookOne(t, router, providerID, "09:00", "09:30")

	rec := doJSON(t, router, "PATCH", "/appointments/"+appt.ID.String()+"/reschedule", "clinic_admin",
		map[string]string{"date": "2025-03-11", "start_time": "10:00", "end_time": "10:30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-03-11", resp.Date)
	assert.Equal(t, "10:00", resp.StartTime)

	// Patients do not hold the reschedule capability.
	rec = doJSON(t, router, "PATCH", "/appointments/"+appt.ID.String()+"/reschedule", "patient",
		map[string]string{"date": "2025-03-12", "start_time": "10:00", "end_time": "10:30"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
