package contact

import (
	"context"
	"errors"

	"backend-trailwatch/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("contact not found")

type Service struct {
	db db.TxQuerier
}

func NewService(db db.TxQuerier) *Service {
	return &Service{db: db}
}

// Create stores a contact. Marking a contact primary demotes the account's previous one
// in the same transaction, so a failed insert leaves the old primary in place.
func (s *Service) Create(ctx context.Context, input EmergencyContact) (EmergencyContact, error) {
	input.ID = uuid.NewString()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return EmergencyContact{}, err
	}
	if err := insertContact(ctx, tx, &input); err != nil {
		_ = tx.Rollback(ctx)
		return EmergencyContact{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return EmergencyContact{}, err
	}
	return input, nil
}

func insertContact(ctx context.Context, tx pgx.Tx, c *EmergencyContact) error {
	if c.IsPrimary {
		if _, err := tx.Exec(ctx, `
			UPDATE emergency_contacts SET is_primary=false WHERE account_id=$1 AND is_primary
		`, c.AccountID); err != nil {
			return err
		}
	}
	return tx.QueryRow(ctx, `
		INSERT INTO emergency_contacts (id, account_id, name, phone, email, is_primary)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, c.ID, c.AccountID, c.Name, c.Phone, c.Email, c.IsPrimary).Scan(&c.CreatedAt)
}

// List returns the account's contacts, primary first.
func (s *Service) List(ctx context.Context, accountID string) ([]EmergencyContact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, account_id, name, phone, email, is_primary, created_at
		FROM emergency_contacts WHERE account_id=$1
		ORDER BY is_primary DESC, created_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []EmergencyContact
	for rows.Next() {
		var c EmergencyContact
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Phone, &c.Email, &c.IsPrimary, &c.CreatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *Service) Delete(ctx context.Context, accountID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM emergency_contacts WHERE id=$1 AND account_id=$2`, id, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
