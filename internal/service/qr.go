package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/model"
	"github.com/sakif/chatcode/internal/qr"
	"github.com/sakif/chatcode/internal/repository"
	"github.com/sakif/chatcode/internal/validate"
)

// QRService manages each user's phone number, preset message and the QR
// code derived from them.
type QRService struct {
	store  repository.Store
	logger *slog.Logger
}

func NewQRService(store repository.Store, logger *slog.Logger) *QRService {
	return &QRService{store: store, logger: logger}
}

// SettingsInput is the dashboard/profile settings form.
type SettingsInput struct {
	Phone  string `form:"phone"  validate:"required,phone"`
	Preset string `form:"preset" validate:"max=500"`
}

// QRCode is everything a page needs to show one user's code.
type QRCode struct {
	Owner  *model.User
	Record *model.QRRecord
	Link   string
}

// UpdateSettings stores a new phone number and preset message for userID.
// The user row and the QR record change together or not at all.
func (s *QRService) UpdateSettings(ctx context.Context, userID string, in SettingsInput) (*model.QRRecord, error) {
	in.Phone = qr.NormalizePhone(in.Phone)
	in.Preset = strings.TrimSpace(in.Preset)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	rec := &model.QRRecord{
		OwnerID:         userID,
		PhoneNumber:     in.Phone,
		MessageTemplate: in.Preset,
	}
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.UpdatePhone(ctx, userID, in.Phone); err != nil {
			return err
		}
		return tx.UpsertQRRecord(ctx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("service/qr: updating settings for %s: %w", userID, err)
	}

	s.logger.Info("qr settings updated", slog.String("userID", userID))
	return rec, nil
}

// ForUser returns the QR code of userID. A user who never set a phone
// number has no code: the error wraps apperror.ErrNotFound.
func (s *QRService) ForUser(ctx context.Context, userID string) (*QRCode, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/qr: fetching user %s: %w", userID, err)
	}
	return s.codeFor(ctx, user)
}

// GetByUsername returns the public QR code of username.
func (s *QRService) GetByUsername(ctx context.Context, username string) (*QRCode, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperror.NotFound("user", username)
	}
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("service/qr: fetching %q: %w", username, err)
	}
	return s.codeFor(ctx, user)
}

func (s *QRService) codeFor(ctx context.Context, user *model.User) (*QRCode, error) {
	rec, err := s.store.GetQRRecord(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/qr: fetching code of %s: %w", user.ID, err)
	}
	if rec.PhoneNumber == "" {
		return nil, fmt.Errorf("service/qr: %s has no phone: %w", user.ID, apperror.ErrNotFound)
	}
	return &QRCode{
		Owner:  user,
		Record: rec,
		Link:   qr.Link(rec.PhoneNumber, rec.MessageTemplate),
	}, nil
}

// RenderPNG renders the public QR code of username.
func (s *QRService) RenderPNG(ctx context.Context, username string, size int) ([]byte, error) {
	code, err := s.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	png, err := qr.Encode(code.Link, size)
	if err != nil {
		return nil, fmt.Errorf("service/qr: rendering %q: %w", username, err)
	}
	return png, nil
}

// IsMissing reports whether err means "this user has no QR code".
func IsMissing(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}
