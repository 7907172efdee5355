package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidTransition          = errors.New("invalid consultation status transition")
	ErrIncompleteRecord           = errors.New("consultation record is missing required clinical documentation")
	ErrIndexOutOfRange            = errors.New("collection index out of range")
	ErrRecordReadOnly             = errors.New("consultation is completed or cancelled and can no longer be edited")
	ErrCancellationReasonRequired = errors.New("cancellation requires a non-empty reason")
	ErrPatientRequired            = errors.New("patient id is required")
	ErrProviderRequired           = errors.New("provider id is required")
)

// Service owns the consultation record lifecycle, including the completion
// gate: a record reaches completed only with a chief complaint, a history of
// present illness and at least one diagnosis. The gate runs here, server side,
// never only in a calling UI.
type Service struct {
	repo Repository
	log  *zap.Logger
}

func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
	}
}

// CreateRequest opens a record either standalone or from an appointment.
type CreateRequest struct {
	ClinicID   uuid.UUID
	PatientID  uuid.UUID
	ProviderID uuid.UUID

	// AppointmentID back-references the encounter's appointment, if any.
	AppointmentID *uuid.UUID

	ChiefComplaint string

	// SeedComplaint fills an empty ChiefComplaint, typically from the
	// appointment's reason for visit.
	SeedComplaint *string
}

// Create opens a new consultation in scheduled status. Creating from an
// appointment copies identities only; promoting the appointment itself is the
// facade's explicit, separate call.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Consultation, error) {
	if req.PatientID == uuid.Nil {
		return nil, ErrPatientRequired
	}
	if req.ProviderID == uuid.Nil {
		return nil, ErrProviderRequired
	}

	complaint := strings.TrimSpace(req.ChiefComplaint)
	if complaint == "" && req.SeedComplaint != nil {
		complaint = strings.TrimSpace(*req.SeedComplaint)
	}

	c := &Consultation{
		ClinicID:       req.ClinicID,
		PatientID:      req.PatientID,
		ProviderID:     req.ProviderID,
		AppointmentID:  req.AppointmentID,
		Status:         StatusScheduled,
		ChiefComplaint: complaint,
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}

	payload := map[string]any{
		"patient_id":  c.PatientID.String(),
		"provider_id": c.ProviderID.String(),
	}
	if c.AppointmentID != nil {
		payload["appointment_id"] = c.AppointmentID.String()
	}
	s.logEvent(ctx, c.ID, EventOpened, payload)

	return c, nil
}

// Get retrieves one consultation.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByAppointment finds the record opened from an appointment, if one exists.
func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Consultation, error) {
	return s.repo.GetByAppointmentID(ctx, appointmentID)
}

// ListByPatient returns the patient's records, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Consultation, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

// Update merges a narrative patch. Legal in any non-terminal status.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Consultation, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		c.apply(patch)
		return nil
	})
}

// AddDiagnosis appends to the diagnoses collection.
func (s *Service) AddDiagnosis(ctx context.Context, id uuid.UUID, d Diagnosis) (*Consultation, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		c.Diagnoses = append(c.Diagnoses, d)
		return nil
	})
}

// RemoveDiagnosis removes by index; later entries shift down.
func (s *Service) RemoveDiagnosis(ctx context.Context, id uuid.UUID, index int) (*Consultation, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if index < 0 || index >= len(c.Diagnoses) {
			return ErrIndexOutOfRange
		}
		c.Diagnoses = append(c.Diagnoses[:index], c.Diagnoses[index+1:]...)
		return nil
	})
}

// AddPrescription appends to the prescriptions collection.
func (s *Service) AddPrescription(ctx context.Context, id uuid.UUID, p Prescription) (*Consultation, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		c.Prescriptions = append(c.Prescriptions, p)
		return nil
	})
}

// RemovePrescription removes by index; later entries shift down.
func (s *Service) RemovePrescription(ctx context.Context, id uuid.UUID, index int) (*Consultation, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if index < 0 || index >= len(c.Prescriptions) {
			return ErrIndexOutOfRange
		}
		c.Prescriptions = append(c.Prescriptions[:index], c.Prescriptions[index+1:]...)
		return nil
	})
}

// AddOrderedExam appends to the ordered exams collection.
func (s *Service) AddOrderedExam(ctx context.Context, id uuid.UUID, e OrderedExam) (*Consultation, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		c.OrderedExams = append(c.OrderedExams, e)
		return nil
	})
}

// RemoveOrderedExam removes by index; later entries shift down.
func (s *Service) RemoveOrderedExam(ctx context.Context, id uuid.UUID, index int) (*Consultation, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if index < 0 || index >= len(c.OrderedExams) {
			return ErrIndexOutOfRange
		}
		c.OrderedExams = append(c.OrderedExams[:index], c.OrderedExams[index+1:]...)
		return nil
	})
}

// RecordExamResult attaches results to an ordered exam.
func (s *Service) RecordExamResult(ctx context.Context, id uuid.UUID, index int, results string) (*Consultation, error) {
	return s.mutate(ctx, id, func(c *Consultation) error {
		if index < 0 || index >= len(c.OrderedExams) {
			return ErrIndexOutOfRange
		}
		now := time.Now().UTC()
		c.OrderedExams[index].Results = results
		c.OrderedExams[index].ResultDate = &now
		return nil
	})
}

// Transition moves the record to target. Transition to completed runs the
// compliance gate; transition to cancelled requires a non-empty reason.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, cancellationReason string) (*Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(c.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, target)
	}

	switch target {
	case StatusCompleted:
		if missing := c.MissingForCompletion(); len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteRecord, strings.Join(missing, ", "))
		}
	case StatusCancelled:
		reason := strings.TrimSpace(cancellationReason)
		if reason == "" {
			return nil, ErrCancellationReasonRequired
		}
		now := time.Now().UTC()
		c.CancellationReason = &reason
		c.CancelledAt = &now
	}

	from := c.Status
	c.Status = target

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	event := EventStatusChanged
	if target == StatusCompleted {
		event = EventCompleted
	}
	s.logEvent(ctx, c.ID, event, map[string]any{
		"from": string(from),
		"to":   string(target),
	})

	s.log.Info("consultation status changed",
		zap.String("consultation_id", c.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)

	return c, nil
}

// Delete soft-deletes the record. Nothing is ever hard-deleted.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.SoftDelete(ctx, id)
}

// mutate runs a read-modify-write cycle under the version CAS. All edits are
// rejected once the record is terminal.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*Consultation) error) (*Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(c.Status) {
		return nil, ErrRecordReadOnly
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) logEvent(ctx context.Context, consultationID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	cid := consultationID

	ev := EventLog{
		EventType:      eventType,
		ConsultationID: &cid,
		Payload:        data,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("consultation_id", consultationID.String()),
			zap.Error(err),
		)
	}
}
