package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rachcampitos/histora-sub001/internal/appointment"
	"github.com/rachcampitos/histora-sub001/internal/clinic"
	"github.com/rachcampitos/histora-sub001/internal/consultation"
	"github.com/rachcampitos/histora-sub001/internal/identity"
)

func listSlotsHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		providerID, err := uuid.Parse(chi.URLParam(r, "providerID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "providerID must be a valid UUID")
			return
		}

		date, err := parseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := facade.AvailableSlots(r.Context(), actor, providerID, date)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{StartTime: s.Start.String(), EndTime: s.End.String()})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bookAppointmentHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		slot, err := parseInterval(req.StartTime, req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot", "start_time and end_time must be HH:MM")
			return
		}

		bookedBy := appointment.BookedByClinic
		if req.BookedBy != "" {
			parsed, ok := appointment.ParseBookedBy(req.BookedBy)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_booked_by", "booked_by must be clinic or patient")
				return
			}
			bookedBy = parsed
		}

		appt, err := facade.BookAppointment(r.Context(), actor, appointment.BookRequest{
			ClinicID:       clinicID,
			PatientID:      patientID,
			ProviderID:     providerID,
			Date:           date,
			Slot:           slot,
			BookedBy:       bookedBy,
			ReasonForVisit: req.ReasonForVisit,
			Notes:          req.Notes,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// listAppointmentsHandler serves the two ledger views: a provider's day
// (provider_id + date) or a patient's history (patient_id).
func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var (
			appts []appointment.Appointment
			err   error
		)
		switch {
		case q.Get("provider_id") != "":
			providerID, perr := uuid.Parse(q.Get("provider_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
				return
			}
			date, derr := parseDate(q.Get("date"))
			if derr != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			appts, err = svc.ListByProvider(r.Context(), providerID, date)
		case q.Get("patient_id") != "":
			patientID, perr := uuid.Parse(q.Get("patient_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByPatient(r.Context(), patientID)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "provide provider_id+date or patient_id")
			return
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func transitionAppointmentHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		target, ok := appointment.ParseStatus(req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown appointment status")
			return
		}

		appt, err := facade.TransitionAppointment(r.Context(), actor, id, target, req.CancellationReason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := facade.CancelAppointment(r.Context(), actor, id, req.CancellationReason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		slot, err := parseInterval(req.StartTime, req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot", "start_time and end_time must be HH:MM")
			return
		}

		appt, err := facade.RescheduleAppointment(r.Context(), actor, id, date, slot)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func startEncounterHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, record, err := facade.StartEncounter(r.Context(), actor, id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StartEncounterResponse{
			Appointment:  toAppointmentResponse(appt),
			Consultation: toConsultationResponse(record),
		})
	}
}

func createConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}
		if err := actor.Require(identity.PermStartEncounter); err != nil {
			writeDomainError(w, err)
			return
		}

		var req CreateConsultationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		clinicID, err := uuid.Parse(req.ClinicID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		record, err := svc.Create(r.Context(), consultation.CreateRequest{
			ClinicID:       clinicID,
			PatientID:      patientID,
			ProviderID:     providerID,
			ChiefComplaint: req.ChiefComplaint,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toConsultationResponse(record))
	}
}

func consultationFromAppointmentHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		appointmentID, err := uuid.Parse(chi.URLParam(r, "appointmentID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentID must be a valid UUID")
			return
		}

		var req FromAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		record, err := facade.CreateConsultationFromAppointment(r.Context(), actor, appointmentID, req.ChiefComplaint)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toConsultationResponse(record))
	}
}

func getConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
			return
		}

		record, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(record))
	}
}

func patchConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}
		if err := actor.Require(identity.PermEditConsultation); err != nil {
			writeDomainError(w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
			return
		}

		var req ConsultationPatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		record, err := svc.Update(r.Context(), id, req.toPatch())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(record))
	}
}

// editConsultationCollection factors the shared shape of the add handlers:
// permission check, path ID, body decode, one service call.
func editConsultationCollection[Req any](svc *consultation.Service, apply func(*http.Request, uuid.UUID, Req) (*consultation.Consultation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}
		if err := actor.Require(identity.PermEditConsultation); err != nil {
			writeDomainError(w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
			return
		}

		var req Req
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		record, err := apply(r, id, req)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(record))
	}
}

func addDiagnosisHandler(svc *consultation.Service) http.HandlerFunc {
	return editConsultationCollection(svc, func(r *http.Request, id uuid.UUID, req AddDiagnosisRequest) (*consultation.Consultation, error) {
		dtype, ok := consultation.ParseDiagnosisType(req.Type)
		if !ok {
			dtype = consultation.DiagnosisPrincipal
		}
		return svc.AddDiagnosis(r.Context(), id, consultation.Diagnosis{
			Code:        req.Code,
			Description: req.Description,
			Type:        dtype,
			Notes:       req.Notes,
		})
	})
}

func addPrescriptionHandler(svc *consultation.Service) http.HandlerFunc {
	return editConsultationCollection(svc, func(r *http.Request, id uuid.UUID, req AddPrescriptionRequest) (*consultation.Consultation, error) {
		return svc.AddPrescription(r.Context(), id, consultation.Prescription{
			Medication:   req.Medication,
			Dosage:       req.Dosage,
			Frequency:    req.Frequency,
			Duration:     req.Duration,
			Route:        req.Route,
			Instructions: req.Instructions,
			IsControlled: req.IsControlled,
		})
	})
}

func addExamHandler(svc *consultation.Service) http.HandlerFunc {
	return editConsultationCollection(svc, func(r *http.Request, id uuid.UUID, req AddExamRequest) (*consultation.Consultation, error) {
		return svc.AddOrderedExam(r.Context(), id, consultation.OrderedExam{
			Name:         req.Name,
			Type:         req.Type,
			Instructions: req.Instructions,
			IsUrgent:     req.IsUrgent,
		})
	})
}

func removeFromCollectionHandler(svc *consultation.Service, remove func(*http.Request, uuid.UUID, int) (*consultation.Consultation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}
		if err := actor.Require(identity.PermEditConsultation); err != nil {
			writeDomainError(w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
			return
		}
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_index", "index must be an integer")
			return
		}

		record, err := remove(r, id, index)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(record))
	}
}

func recordExamResultHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}
		if err := actor.Require(identity.PermEditConsultation); err != nil {
			writeDomainError(w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
			return
		}
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_index", "index must be an integer")
			return
		}

		var req ExamResultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		record, err := svc.RecordExamResult(r.Context(), id, index, req.Results)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(record))
	}
}

func transitionConsultationHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}
		if err := actor.Require(identity.PermEditConsultation); err != nil {
			writeDomainError(w, err)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		target, ok := consultation.ParseStatus(req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_status", "unknown consultation status")
			return
		}

		record, err := svc.Transition(r.Context(), id, target, req.CancellationReason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(record))
	}
}

func completeConsultationHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
			return
		}

		var req CompleteConsultationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var patch *consultation.Patch
		if req.TreatmentPlan != nil || req.ClinicalNotes != nil || req.FollowUpDate != nil || req.FollowUpInstructions != nil {
			patch = &consultation.Patch{
				TreatmentPlan:        req.TreatmentPlan,
				ClinicalNotes:        req.ClinicalNotes,
				FollowUpDate:         req.FollowUpDate,
				FollowUpInstructions: req.FollowUpInstructions,
			}
		}

		record, err := facade.CompleteEncounter(r.Context(), actor, id, patch)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(record))
	}
}

func cancelConsultationHandler(facade *clinic.Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromRequest(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID and X-Actor-Role headers are required")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_consultation_id", "id must be a valid UUID")
			return
		}

		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		record, err := facade.CancelConsultation(r.Context(), actor, id, req.CancellationReason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConsultationResponse(record))
	}
}

func listPatientConsultationsHandler(svc *consultation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		records, err := svc.ListByPatient(r.Context(), patientID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]ConsultationResponse, 0, len(records))
		for i := range records {
			resp = append(resp, toConsultationResponse(&records[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
