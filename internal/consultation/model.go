package consultation

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus validates a status string from a request.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return Status(s), true
	}
	return "", false
}

// transitions is the consultation state machine. Statuses absent from the map
// are terminal.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether target is reachable from current.
func CanTransition(current, target Status) bool {
	for _, next := range transitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the record is read-only from here on.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

type DiagnosisType string

const (
	DiagnosisPrincipal    DiagnosisType = "principal"
	DiagnosisSecondary    DiagnosisType = "secondary"
	DiagnosisDifferential DiagnosisType = "differential"
)

// ParseDiagnosisType validates a diagnosis type string.
func ParseDiagnosisType(s string) (DiagnosisType, bool) {
	switch DiagnosisType(s) {
	case DiagnosisPrincipal, DiagnosisSecondary, DiagnosisDifferential:
		return DiagnosisType(s), true
	}
	return "", false
}

type Diagnosis struct {
	Code        string        `json:"code"`
	Description string        `json:"description"`
	Type        DiagnosisType `json:"type"`
	Notes       string        `json:"notes,omitempty"`
}

type Prescription struct {
	Medication   string `json:"medication"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Route        string `json:"route"`
	Instructions string `json:"instructions,omitempty"`
	IsControlled bool   `json:"is_controlled"`
}

type OrderedExam struct {
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Instructions string     `json:"instructions,omitempty"`
	IsUrgent     bool       `json:"is_urgent"`
	Results      string     `json:"results,omitempty"`
	ResultDate   *time.Time `json:"result_date,omitempty"`
}

// PhysicalExamination is the structured vitals sub-record.
type PhysicalExamination struct {
	BloodPressure   *string  `json:"blood_pressure,omitempty"`
	HeartRate       *int     `json:"heart_rate,omitempty"`
	RespiratoryRate *int     `json:"respiratory_rate,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	WeightKg        *float64 `json:"weight_kg,omitempty"`
	HeightCm        *float64 `json:"height_cm,omitempty"`
	Findings        *string  `json:"findings,omitempty"`
}

// Consultation is the clinical record of one encounter. It may reference the
// appointment it was opened from, but neither aggregate owns the other:
// cancelling an appointment never cascades here.
type Consultation struct {
	ID         uuid.UUID
	ClinicID   uuid.UUID
	PatientID  uuid.UUID
	ProviderID uuid.UUID

	AppointmentID *uuid.UUID

	Status Status

	// Required for completion.
	ChiefComplaint          string
	HistoryOfPresentIllness string

	PastMedicalHistory   *string
	FamilyHistory        *string
	SocialHistory        *string
	Allergies            *string
	CurrentMedications   *string
	PhysicalExamination  *PhysicalExamination
	TreatmentPlan        *string
	ClinicalNotes        *string
	FollowUpDate         *time.Time
	FollowUpInstructions *string

	// Ordered collections; removal is by index and shifts later entries.
	Diagnoses     []Diagnosis
	Prescriptions []Prescription
	OrderedExams  []OrderedExam

	CancellationReason *string
	CancelledAt        *time.Time

	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// MissingForCompletion lists the required-field names the compliance gate
// still needs before the record may be completed.
func (c *Consultation) MissingForCompletion() []string {
	var missing []string
	if c.ChiefComplaint == "" {
		missing = append(missing, "chief_complaint")
	}
	if c.HistoryOfPresentIllness == "" {
		missing = append(missing, "history_of_present_illness")
	}
	if len(c.Diagnoses) == 0 {
		missing = append(missing, "diagnoses")
	}
	return missing
}

// Patch is a partial narrative update; nil fields are left untouched.
type Patch struct {
	ChiefComplaint          *string
	HistoryOfPresentIllness *string
	PastMedicalHistory      *string
	FamilyHistory           *string
	SocialHistory           *string
	Allergies               *string
	CurrentMedications      *string
	PhysicalExamination     *PhysicalExamination
	TreatmentPlan           *string
	ClinicalNotes           *string
	FollowUpDate            *time.Time
	FollowUpInstructions    *string
}

func (c *Consultation) apply(p Patch) {
	if p.ChiefComplaint != nil {
		c.ChiefComplaint = *p.ChiefComplaint
	}
	if p.HistoryOfPresentIllness != nil {
		c.HistoryOfPresentIllness = *p.HistoryOfPresentIllness
	}
	if p.PastMedicalHistory != nil {
		c.PastMedicalHistory = p.PastMedicalHistory
	}
	if p.FamilyHistory != nil {
		c.FamilyHistory = p.FamilyHistory
	}
	if p.SocialHistory != nil {
		c.SocialHistory = p.SocialHistory
	}
	if p.Allergies != nil {
		c.Allergies = p.Allergies
	}
	if p.CurrentMedications != nil {
		c.CurrentMedications = p.CurrentMedications
	}
	if p.PhysicalExamination != nil {
		c.PhysicalExamination = p.PhysicalExamination
	}
	if p.TreatmentPlan != nil {
		c.TreatmentPlan = p.TreatmentPlan
	}
	if p.ClinicalNotes != nil {
		c.ClinicalNotes = p.ClinicalNotes
	}
	if p.FollowUpDate != nil {
		c.FollowUpDate = p.FollowUpDate
	}
	if p.FollowUpInstructions != nil {
		c.FollowUpInstructions = p.FollowUpInstructions
	}
}

// Audit event types recorded on the consultation record.
const (
	EventOpened        = "CONSULTATION_OPENED"
	EventStatusChanged = "CONSULTATION_STATUS_CHANGED"
	EventCompleted     = "CONSULTATION_COMPLETED"
)

// EventLog is an append-only audit record.
type EventLog struct {
	ID             int64
	EventType      string
	ConsultationID *uuid.UUID
	Payload        []byte
	CreatedAt      time.Time
}
