package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/rachcampitos/histora-sub001/internal/appointment"
	"github.com/rachcampitos/histora-sub001/internal/consultation"
	"github.com/rachcampitos/histora-sub001/internal/identity"
	"github.com/rachcampitos/histora-sub001/internal/schedule"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps the core error taxonomy onto HTTP statuses.
// Conflicts are retryable after a re-read; validation failures are not.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", err.Error())

	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, consultation.ErrConsultationNotFound):
		writeError(w, http.StatusNotFound, "consultation_not_found", err.Error())

	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "provider day is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrStaleVersion),
		errors.Is(err, consultation.ErrStaleVersion):
		writeError(w, http.StatusConflict, "stale_version", err.Error())

	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, consultation.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrRescheduleNotAllowed):
		writeError(w, http.StatusConflict, "reschedule_not_allowed", err.Error())
	case errors.Is(err, consultation.ErrRecordReadOnly):
		writeError(w, http.StatusConflict, "record_read_only", err.Error())

	case errors.Is(err, consultation.ErrIncompleteRecord):
		writeError(w, http.StatusUnprocessableEntity, "incomplete_record", err.Error())

	case errors.Is(err, appointment.ErrCancellationReasonRequired),
		errors.Is(err, consultation.ErrCancellationReasonRequired):
		writeError(w, http.StatusBadRequest, "cancellation_reason_required", err.Error())
	case errors.Is(err, appointment.ErrInvalidInterval),
		errors.Is(err, appointment.ErrDateRequired),
		errors.Is(err, consultation.ErrPatientRequired),
		errors.Is(err, consultation.ErrProviderRequired):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, consultation.ErrIndexOutOfRange):
		writeError(w, http.StatusBadRequest, "index_out_of_range", err.Error())

	case isPersistenceUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "persistence_unavailable", "storage is unavailable, retry with backoff")

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

// isPersistenceUnavailable classifies infrastructure failures that a client
// should retry rather than report: timeouts, refused or dropped connections
// to Postgres or Redis, and closed clients during shutdown.
func isPersistenceUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

// actorFromRequest reads the identity context the session layer attached.
// The core trusts the caller for attribution but still validates every
// state-machine rule itself.
func actorFromRequest(r *http.Request) (identity.Actor, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		return identity.Actor{}, false
	}
	role, ok := identity.ParseRole(r.Header.Get("X-Actor-Role"))
	if !ok {
		return identity.Actor{}, false
	}
	return identity.Actor{ID: id, Role: role}, true
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(appointment.DateFormat, s)
}

func parseInterval(start, end string) (schedule.Interval, error) {
	st, err := schedule.ParseTimeOfDay(start)
	if err != nil {
		return schedule.Interval{}, err
	}
	en, err := schedule.ParseTimeOfDay(end)
	if err != nil {
		return schedule.Interval{}, err
	}
	return schedule.Interval{Start: st, End: en}, nil
}
