package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rachcampitos/histora-sub001/internal/appointment"
	"github.com/rachcampitos/histora-sub001/internal/clinic"
	"github.com/rachcampitos/histora-sub001/internal/consultation"
)

type RouterConfig struct {
	Facade        *clinic.Facade
	Appointments  *appointment.Service
	Consultations *consultation.Service
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Log           *zap.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/providers/{providerID}/slots", listSlotsHandler(cfg.Facade))

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Facade))
		r.Get("/", listAppointmentsHandler(cfg.Appointments))
		r.Get("/{id}", getAppointmentHandler(cfg.Appointments))
		r.Patch("/{id}/status", transitionAppointmentHandler(cfg.Facade))
		r.Patch("/{id}/cancel", cancelAppointmentHandler(cfg.Facade))
		r.Patch("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Facade))
		r.Post("/{id}/start", startEncounterHandler(cfg.Facade))
	})

	r.Route("/consultations", func(r chi.Router) {
		r.Post("/", createConsultationHandler(cfg.Consultations))
		r.Get("/", listPatientConsultationsHandler(cfg.Consultations))
		r.Post("/from-appointment/{appointmentID}", consultationFromAppointmentHandler(cfg.Facade))
		r.Get("/{id}", getConsultationHandler(cfg.Consultations))
		r.Patch("/{id}", patchConsultationHandler(cfg.Consultations))

		r.Post("/{id}/diagnoses", addDiagnosisHandler(cfg.Consultations))
		r.Delete("/{id}/diagnoses/{index}", removeFromCollectionHandler(cfg.Consultations,
			func(r *http.Request, id uuid.UUID, index int) (*consultation.Consultation, error) {
				return cfg.Consultations.RemoveDiagnosis(r.Context(), id, index)
			}))
		r.Post("/{id}/prescriptions", addPrescriptionHandler(cfg.Consultations))
		r.Delete("/{id}/prescriptions/{index}", removeFromCollectionHandler(cfg.Consultations,
			func(r *http.Request, id uuid.UUID, index int) (*consultation.Consultation, error) {
				return cfg.Consultations.RemovePrescription(r.Context(), id, index)
			}))
		r.Post("/{id}/exams", addExamHandler(cfg.Consultations))
		r.Delete("/{id}/exams/{index}", removeFromCollectionHandler(cfg.Consultations,
			func(r *http.Request, id uuid.UUID, index int) (*consultation.Consultation, error) {
				return cfg.Consultations.RemoveOrderedExam(r.Context(), id, index)
			}))
		r.Patch("/{id}/exams/{index}/result", recordExamResultHandler(cfg.Consultations))

		r.Patch("/{id}/status", transitionConsultationHandler(cfg.Consultations))
		r.Post("/{id}/complete", completeConsultationHandler(cfg.Facade))
		r.Patch("/{id}/cancel", cancelConsultationHandler(cfg.Facade))
	})

	return r
}
