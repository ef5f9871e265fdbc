package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicops/clinic-platform/pkg/logging"
)

// Patient is the contact record a notification is addressed to.
type Patient struct {
	ID    uuid.UUID
	Name  string
	Email string
}

// PatientDirectory resolves patient contact details.
type PatientDirectory interface {
	Lookup(ctx context.Context, orgID string, patientID uuid.UUID) (*Patient, error)
}

// directoryDB is the database surface PostgresDirectory needs.
type directoryDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory looks patients up in the patients table.
type PostgresDirectory struct {
	db directoryDB
}

// NewPostgresDirectory creates a patient directory over Postgres.
func NewPostgresDirectory(db directoryDB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// ErrPatientNotFound is returned when no contact record exists.
var ErrPatientNotFound = errors.New("notify: patient not found")

// Lookup returns the patient's name and email.
func (d *PostgresDirectory) Lookup(ctx context.Context, orgID string, patientID uuid.UUID) (*Patient, error) {
	p := Patient{ID: patientID}
	err := d.db.QueryRow(ctx, `
		SELECT name, email FROM patients
		WHERE org_id = $1 AND id = $2`, orgID, patientID).Scan(&p.Name, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("notify: lookup patient: %w", err)
	}
	return &p, nil
}

// Service renders and dispatches patient-facing queue notifications.
type Service struct {
	email     EmailSender
	directory PatientDirectory
	logger    *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, directory PatientDirectory, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	return &Service{email: email, directory: directory, logger: logger}
}

// RescheduleNotice tells the patient their missed visit got a new slot.
func (s *Service) RescheduleNotice(ctx context.Context, orgID string, patientID uuid.UUID, newDate time.Time, queueNumber int) error {
	p, err := s.directory.Lookup(ctx, orgID, patientID)
	if err != nil {
		return err
	}
	if p.Email == "" {
		s.logger.Debug("patient has no email, skipping reschedule notice",
			"org_id", orgID, "patient_id", patientID)
		return nil
	}

	day := newDate.Format("Monday, January 2")
	return s.email.Send(ctx, EmailMessage{
		To:      p.Email,
		ToName:  p.Name,
		Subject: "Your appointment has been rescheduled",
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour missed appointment has been rescheduled to %s. Your queue number is %d.\n\nPlease arrive before the clinic opens to keep your place in line.",
			p.Name, day, queueNumber),
	})
}

// ReminderNotice reminds the patient of an upcoming appointment.
func (s *Service) ReminderNotice(ctx context.Context, orgID string, patientID uuid.UUID, date time.Time, queueNumber int) error {
	p, err := s.directory.Lookup(ctx, orgID, patientID)
	if err != nil {
		return err
	}
	if p.Email == "" {
		return nil
	}

	return s.email.Send(ctx, EmailMessage{
		To:      p.Email,
		ToName:  p.Name,
		Subject: "Appointment reminder",
		Body: fmt.Sprintf(
			"Hi %s,\n\nThis is a reminder of your appointment on %s. Your queue number is %d.",
			p.Name, date.Format("Monday, January 2"), queueNumber),
	})
}
