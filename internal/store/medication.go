package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/medguard/internal/model"
)

type MedicationStore struct {
	db *sql.DB
}

func NewMedicationStore(db *sql.DB) *MedicationStore {
	return &MedicationStore{db: db}
}

func scanMedication(scanner interface{ Scan(...any) error }) (*model.Medication, error) {
	var m model.Medication
	var start, end string
	err := scanner.Scan(&m.ID, &m.OwnerID, &m.Name, &m.Dose, &m.Duration, &start, &end, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.StartDate = model.Date(start)
	m.EndDate = model.Date(end)
	return &m, nil
}

const medicationCols = `id, owner_id, name, dose, duration, start_date, end_date, created_at, updated_at`

// Create inserts m with its schedule, assigning ID and timestamps.
func (s *MedicationStore) Create(ctx context.Context, m *model.Medication) error {
	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Adherence == nil {
		m.Adherence = model.Adherence{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO medications (`+medicationCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OwnerID, m.Name, m.Dose, m.Duration, m.StartDate.String(), m.EndDate.String(), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert medication: %w", err)
	}
	for _, t := range m.Times {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO medication_times (medication_id, time_of_day) VALUES (?, ?)`,
			m.ID, t.String(),
		); err != nil {
			return fmt.Errorf("insert medication time: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *MedicationStore) GetByID(ctx context.Context, id string) (*model.Medication, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+medicationCols+` FROM medications WHERE id = ?`, id)
	m, err := scanMedication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	if err := s.loadSchedule(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListByOwner returns ownerID's medications, newest first.
func (s *MedicationStore) ListByOwner(ctx context.Context, ownerID string) ([]model.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+medicationCols+` FROM medications WHERE owner_id = ? ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	var meds []model.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate medications: %w", err)
	}

	// Rows must be closed first: the in-memory database has one connection.
	for i := range meds {
		if err := s.loadSchedule(ctx, &meds[i]); err != nil {
			return nil, err
		}
	}
	return meds, nil
}

func (s *MedicationStore) loadSchedule(ctx context.Context, m *model.Medication) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time_of_day FROM medication_times WHERE medication_id = ? ORDER BY time_of_day`, m.ID)
	if err != nil {
		return fmt.Errorf("list medication times: %w", err)
	}
	m.Times = nil
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return fmt.Errorf("scan medication time: %w", err)
		}
		m.Times = append(m.Times, model.TimeOfDay(t))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate medication times: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT dose_date, time_of_day FROM medication_doses WHERE medication_id = ? ORDER BY dose_date, time_of_day`, m.ID)
	if err != nil {
		return fmt.Errorf("list doses: %w", err)
	}
	defer rows.Close()
	m.Adherence = model.Adherence{}
	for rows.Next() {
		var d, t string
		if err := rows.Scan(&d, &t); err != nil {
			return fmt.Errorf("scan dose: %w", err)
		}
		m.Adherence[model.Date(d)] = append(m.Adherence[model.Date(d)], model.TimeOfDay(t))
	}
	return rows.Err()
}

// ToggleDose flips the taken state of one dose slot. The caller checks the
// slot against the schedule.
func (s *MedicationStore) ToggleDose(ctx context.Context, id string, date model.Date, t model.TimeOfDay) (*model.Medication, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM medication_doses WHERE medication_id = ? AND dose_date = ? AND time_of_day = ?`,
		id, date.String(), t.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("delete dose: %w", err)
	}
	now := time.Now().UTC()
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO medication_doses (medication_id, dose_date, time_of_day, taken_at) VALUES (?, ?, ?, ?)`,
			id, date.String(), t.String(), now,
		); err != nil {
			return nil, fmt.Errorf("insert dose: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE medications SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return nil, fmt.Errorf("touch medication: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(ctx, id)
}

// Delete removes a medication and its schedule. It reports whether a row
// was removed.
func (s *MedicationStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM medications WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete medication: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
