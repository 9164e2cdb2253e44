package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/model"
)

// UpsertQRRecord creates or replaces the QR inputs of rec.OwnerID.
func (s *Store) UpsertQRRecord(ctx context.Context, rec *model.QRRecord) error {
	rec.UpdatedAt = now()

	_, err := s.exec(ctx,
		`INSERT INTO qr_codes (owner_id, phone_number, message_template, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE SET
			phone_number = excluded.phone_number,
			message_template = excluded.message_template,
			updated_at = excluded.updated_at`,
		rec.OwnerID, rec.PhoneNumber, rec.MessageTemplate, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: saving qr record for %s: %w", rec.OwnerID, err)
	}
	return nil
}

func (s *Store) GetQRRecord(ctx context.Context, ownerID string) (*model.QRRecord, error) {
	var rec model.QRRecord
	err := s.get(ctx, &rec,
		`SELECT owner_id, phone_number, message_template, updated_at
		 FROM qr_codes WHERE owner_id = ?`,
		ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("qr record", ownerID)
		}
		return nil, fmt.Errorf("sqlstore: getting qr record for %s: %w", ownerID, err)
	}
	return &rec, nil
}
