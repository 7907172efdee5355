package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const consultationColumns = `
	id, clinic_id, patient_id, provider_id, appointment_id, status,
	chief_complaint, history_of_present_illness,
	past_medical_history, family_history, social_history, allergies,
	current_medications, physical_examination, treatment_plan, clinical_notes,
	follow_up_date, follow_up_instructions,
	diagnoses, prescriptions, ordered_exams,
	cancellation_reason, cancelled_at,
	is_deleted, created_at, updated_at, version
`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	var physicalExam, diagnoses, prescriptions, exams []byte

	err := row.Scan(
		&c.ID,
		&c.ClinicID,
		&c.PatientID,
		&c.ProviderID,
		&c.AppointmentID,
		&c.Status,
		&c.ChiefComplaint,
		&c.HistoryOfPresentIllness,
		&c.PastMedicalHistory,
		&c.FamilyHistory,
		&c.SocialHistory,
		&c.Allergies,
		&c.CurrentMedications,
		&physicalExam,
		&c.TreatmentPlan,
		&c.ClinicalNotes,
		&c.FollowUpDate,
		&c.FollowUpInstructions,
		&diagnoses,
		&prescriptions,
		&exams,
		&c.CancellationReason,
		&c.CancelledAt,
		&c.IsDeleted,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsultationNotFound
		}
		return nil, err
	}

	if err := unmarshalInto(physicalExam, &c.PhysicalExamination); err != nil {
		return nil, fmt.Errorf("decode physical examination: %w", err)
	}
	if err := unmarshalInto(diagnoses, &c.Diagnoses); err != nil {
		return nil, fmt.Errorf("decode diagnoses: %w", err)
	}
	if err := unmarshalInto(prescriptions, &c.Prescriptions); err != nil {
		return nil, fmt.Errorf("decode prescriptions: %w", err)
	}
	if err := unmarshalInto(exams, &c.OrderedExams); err != nil {
		return nil, fmt.Errorf("decode ordered exams: %w", err)
	}

	return &c, nil
}

func (r *PgRepository) Create(ctx context.Context, c *Consultation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	physicalExam, diagnoses, prescriptions, exams, err := marshalCollections(c)
	if err != nil {
		return err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO consultations (
			id, clinic_id, patient_id, provider_id, appointment_id, status,
			chief_complaint, history_of_present_illness,
			past_medical_history, family_history, social_history, allergies,
			current_medications, physical_examination, treatment_plan, clinical_notes,
			follow_up_date, follow_up_instructions,
			diagnoses, prescriptions, ordered_exams,
			is_deleted, created_at, updated_at, version
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, false, now(), now(), 1
		)
		RETURNING `+consultationColumns,
		c.ID, c.ClinicID, c.PatientID, c.ProviderID, c.AppointmentID, c.Status,
		c.ChiefComplaint, c.HistoryOfPresentIllness,
		c.PastMedicalHistory, c.FamilyHistory, c.SocialHistory, c.Allergies,
		c.CurrentMedications, physicalExam, c.TreatmentPlan, c.ClinicalNotes,
		c.FollowUpDate, c.FollowUpInstructions,
		diagnoses, prescriptions, exams,
	)

	created, err := scanConsultation(row)
	if err != nil {
		return err
	}

	*c = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE id = $1 AND NOT is_deleted
	`, id)
	return scanConsultation(row)
}

func (r *PgRepository) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE appointment_id = $1 AND NOT is_deleted
	`, appointmentID)
	return scanConsultation(row)
}

func (r *PgRepository) Update(ctx context.Context, c *Consultation) error {
	physicalExam, diagnoses, prescriptions, exams, err := marshalCollections(c)
	if err != nil {
		return err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE consultations
		SET status = $2,
		    chief_complaint = $3,
		    history_of_present_illness = $4,
		    past_medical_history = $5,
		    family_history = $6,
		    social_history = $7,
		    allergies = $8,
		    current_medications = $9,
		    physical_examination = $10,
		    treatment_plan = $11,
		    clinical_notes = $12,
		    follow_up_date = $13,
		    follow_up_instructions = $14,
		    diagnoses = $15,
		    prescriptions = $16,
		    ordered_exams = $17,
		    cancellation_reason = $18,
		    cancelled_at = $19,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $20
		  AND NOT is_deleted
		RETURNING `+consultationColumns,
		c.ID, c.Status,
		c.ChiefComplaint, c.HistoryOfPresentIllness,
		c.PastMedicalHistory, c.FamilyHistory, c.SocialHistory, c.Allergies,
		c.CurrentMedications, physicalExam, c.TreatmentPlan, c.ClinicalNotes,
		c.FollowUpDate, c.FollowUpInstructions,
		diagnoses, prescriptions, exams,
		c.CancellationReason, c.CancelledAt,
		c.Version,
	)

	updated, err := scanConsultation(row)
	if err != nil {
		if errors.Is(err, ErrConsultationNotFound) {
			return r.casFailure(ctx, c.ID)
		}
		return err
	}

	*c = *updated
	return nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Consultation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE patient_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE consultations
		SET is_deleted = true,
		    updated_at = now()
		WHERE id = $1 AND NOT is_deleted
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConsultationNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, consultation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ConsultationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func (r *PgRepository) casFailure(ctx context.Context, id uuid.UUID) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return ErrStaleVersion
}

// marshalCollections encodes the JSONB columns. Empty collections are stored
// as empty arrays, never NULL, so index arithmetic on read stays simple.
func marshalCollections(c *Consultation) (physicalExam, diagnoses, prescriptions, exams []byte, err error) {
	if c.PhysicalExamination != nil {
		physicalExam, err = json.Marshal(c.PhysicalExamination)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode physical examination: %w", err)
		}
	}
	diagnoses, err = marshalList(c.Diagnoses)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode diagnoses: %w", err)
	}
	prescriptions, err = marshalList(c.Prescriptions)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode prescriptions: %w", err)
	}
	exams, err = marshalList(c.OrderedExams)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode ordered exams: %w", err)
	}
	return physicalExam, diagnoses, prescriptions, exams, nil
}

func marshalList[T any](list []T) ([]byte, error) {
	if list == nil {
		list = []T{}
	}
	return json.Marshal(list)
}

func unmarshalInto(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
