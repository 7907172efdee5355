package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/rachcampitos/histora-sub001/internal/appointment"
	"github.com/rachcampitos/histora-sub001/internal/consultation"
)

// -- Requests --

type BookAppointmentRequest struct {
	ClinicID       string  `json:"clinic_id"`
	PatientID      string  `json:"patient_id"`
	ProviderID     string  `json:"provider_id"`
	Date           string  `json:"date"`       // YYYY-MM-DD
	StartTime      string  `json:"start_time"` // HH:MM
	EndTime        string  `json:"end_time"`   // HH:MM
	BookedBy       string  `json:"booked_by,omitempty"`
	ReasonForVisit *string `json:"reason_for_visit,omitempty"`
	Notes          *string `json:"notes,omitempty"`
}

type TransitionRequest struct {
	Status             string `json:"status"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
}

type CancelRequest struct {
	CancellationReason string `json:"cancellation_reason"`
}

type RescheduleRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type CreateConsultationRequest struct {
	ClinicID       string `json:"clinic_id"`
	PatientID      string `json:"patient_id"`
	ProviderID     string `json:"provider_id"`
	ChiefComplaint string `json:"chief_complaint,omitempty"`
}

type FromAppointmentRequest struct {
	ChiefComplaint string `json:"chief_complaint,omitempty"`
}

type ConsultationPatchRequest struct {
	ChiefComplaint          *string                           `json:"chief_complaint,omitempty"`
	HistoryOfPresentIllness *string                           `json:"history_of_present_illness,omitempty"`
	PastMedicalHistory      *string                           `json:"past_medical_history,omitempty"`
	FamilyHistory           *string                           `json:"family_history,omitempty"`
	SocialHistory           *string                           `json:"social_history,omitempty"`
	Allergies               *string                           `json:"allergies,omitempty"`
	CurrentMedications      *string                           `json:"current_medications,omitempty"`
	PhysicalExamination     *consultation.PhysicalExamination `json:"physical_examination,omitempty"`
	TreatmentPlan           *string                           `json:"treatment_plan,omitempty"`
	ClinicalNotes           *string                           `json:"clinical_notes,omitempty"`
	FollowUpDate            *time.Time                        `json:"follow_up_date,omitempty"`
	FollowUpInstructions    *string                           `json:"follow_up_instructions,omitempty"`
}

func (r ConsultationPatchRequest) toPatch() consultation.Patch {
	return consultation.Patch{
		ChiefComplaint:          r.ChiefComplaint,
		HistoryOfPresentIllness: r.HistoryOfPresentIllness,
		PastMedicalHistory:      r.PastMedicalHistory,
		FamilyHistory:           r.FamilyHistory,
		SocialHistory:           r.SocialHistory,
		Allergies:               r.Allergies,
		CurrentMedications:      r.CurrentMedications,
		PhysicalExamination:     r.PhysicalExamination,
		TreatmentPlan:           r.TreatmentPlan,
		ClinicalNotes:           r.ClinicalNotes,
		FollowUpDate:            r.FollowUpDate,
		FollowUpInstructions:    r.FollowUpInstructions,
	}
}

type AddDiagnosisRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Notes       string `json:"notes,omitempty"`
}

type AddPrescriptionRequest struct {
	Medication   string `json:"medication"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Route        string `json:"route"`
	Instructions string `json:"instructions,omitempty"`
	IsControlled bool   `json:"is_controlled"`
}

type AddExamRequest struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Instructions string `json:"instructions,omitempty"`
	IsUrgent     bool   `json:"is_urgent"`
}

type ExamResultRequest struct {
	Results string `json:"results"`
}

type CompleteConsultationRequest struct {
	TreatmentPlan        *string    `json:"treatment_plan,omitempty"`
	ClinicalNotes        *string    `json:"clinical_notes,omitempty"`
	FollowUpDate         *time.Time `json:"follow_up_date,omitempty"`
	FollowUpInstructions *string    `json:"follow_up_instructions,omitempty"`
}

// -- Responses --

type SlotResponse struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ClinicID           uuid.UUID  `json:"clinic_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	Date               string     `json:"date"`
	StartTime          string     `json:"start_time"`
	EndTime            string     `json:"end_time"`
	Status             string     `json:"status"`
	BookedBy           string     `json:"booked_by"`
	ReasonForVisit     *string    `json:"reason_for_visit,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	ConsultationID     *uuid.UUID `json:"consultation_id,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ClinicID:           a.ClinicID,
		PatientID:          a.PatientID,
		ProviderID:         a.ProviderID,
		Date:               a.DateKey(),
		StartTime:          a.Slot.Start.String(),
		EndTime:            a.Slot.End.String(),
		Status:             string(a.Status),
		BookedBy:           string(a.BookedBy),
		ReasonForVisit:     a.ReasonForVisit,
		Notes:              a.Notes,
		ConsultationID:     a.ConsultationID,
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		CancelledAt:        a.CancelledAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type ConsultationResponse struct {
	ID                      uuid.UUID                         `json:"id"`
	ClinicID                uuid.UUID                         `json:"clinic_id"`
	PatientID               uuid.UUID                         `json:"patient_id"`
	ProviderID              uuid.UUID                         `json:"provider_id"`
	AppointmentID           *uuid.UUID                        `json:"appointment_id,omitempty"`
	Status                  string                            `json:"status"`
	ChiefComplaint          string                            `json:"chief_complaint"`
	HistoryOfPresentIllness string                            `json:"history_of_present_illness"`
	PastMedicalHistory      *string                           `json:"past_medical_history,omitempty"`
	FamilyHistory           *string                           `json:"family_history,omitempty"`
	SocialHistory           *string                           `json:"social_history,omitempty"`
	Allergies               *string                           `json:"allergies,omitempty"`
	CurrentMedications      *string                           `json:"current_medications,omitempty"`
	PhysicalExamination     *consultation.PhysicalExamination `json:"physical_examination,omitempty"`
	TreatmentPlan           *string                           `json:"treatment_plan,omitempty"`
	ClinicalNotes           *string                           `json:"clinical_notes,omitempty"`
	FollowUpDate            *time.Time                        `json:"follow_up_date,omitempty"`
	FollowUpInstructions    *string                           `json:"follow_up_instructions,omitempty"`
	Diagnoses               []consultation.Diagnosis          `json:"diagnoses"`
	Prescriptions           []consultation.Prescription       `json:"prescriptions"`
	OrderedExams            []consultation.OrderedExam        `json:"ordered_exams"`
	CancellationReason      *string                           `json:"cancellation_reason,omitempty"`
	CancelledAt             *time.Time                        `json:"cancelled_at,omitempty"`
	CreatedAt               time.Time                         `json:"created_at"`
	UpdatedAt               time.Time                         `json:"updated_at"`
}

func toConsultationResponse(c *consultation.Consultation) ConsultationResponse {
	resp := ConsultationResponse{
		ID:                      c.ID,
		ClinicID:                c.ClinicID,
		PatientID:               c.PatientID,
		ProviderID:              c.ProviderID,
		AppointmentID:           c.AppointmentID,
		Status:                  string(c.Status),
		ChiefComplaint:          c.ChiefComplaint,
		HistoryOfPresentIllness: c.HistoryOfPresentIllness,
		PastMedicalHistory:      c.PastMedicalHistory,
		FamilyHistory:           c.FamilyHistory,
		SocialHistory:           c.SocialHistory,
		Allergies:               c.Allergies,
		CurrentMedications:      c.CurrentMedications,
		PhysicalExamination:     c.PhysicalExamination,
		TreatmentPlan:           c.TreatmentPlan,
		ClinicalNotes:           c.ClinicalNotes,
		FollowUpDate:            c.FollowUpDate,
		FollowUpInstructions:    c.FollowUpInstructions,
		Diagnoses:               c.Diagnoses,
		Prescriptions:           c.Prescriptions,
		OrderedExams:            c.OrderedExams,
		CancellationReason:      c.CancellationReason,
		CancelledAt:             c.CancelledAt,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
	if resp.Diagnoses == nil {
		resp.Diagnoses = []consultation.Diagnosis{}
	}
	if resp.Prescriptions == nil {
		resp.Prescriptions = []consultation.Prescription{}
	}
	if resp.OrderedExams == nil {
		resp.OrderedExams = []consultation.OrderedExam{}
	}
	return resp
}

type StartEncounterResponse struct {
	Appointment  AppointmentResponse  `json:"appointment"`
	Consultation ConsultationResponse `json:"consultation"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
