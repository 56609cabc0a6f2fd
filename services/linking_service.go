package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/utils/apperr"
)

// linkingSessionTTL is how long a transfer code stays redeemable
const linkingSessionTTL = 30 * time.Minute

// LinkingService moves an anonymous user's chats into a signed-in account.
// The anonymous session mints a one-time code; redeeming it from the target
// account transfers ownership.
type LinkingService struct {
	db *gorm.DB
}

// NewLinkingService creates a new linking service
func NewLinkingService(db *gorm.DB) *LinkingService {
	return &LinkingService{db: db}
}

// CreateSession mints a transfer code for the anonymous caller. Only the
// bcrypt hash is stored; the raw code is shown once.
func (s *LinkingService) CreateSession(ctx context.Context, userID string, anonymous bool) (sessionID, token string, err error) {
	if !anonymous {
		return "", "", apperr.Validationf("only anonymous sessions can be linked")
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	token = hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash token: %w", err)
	}

	session := model.LinkingSession{
		UserID:    userID,
		TokenHash: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", "", fmt.Errorf("failed to create linking session: %w", err)
	}
	return session.ID, token, nil
}

// Link redeems a transfer code, moving every chat of the anonymous source
// user to the calling account. The session is consumed either way once the
// code verifies.
func (s *LinkingService) Link(ctx context.Context, targetUserID string, targetAnonymous bool, sessionID, token string) error {
	if targetAnonymous {
		return apperr.Validationf("sign in before linking an anonymous session")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.LinkingSession
		err := tx.Where("id = ?", sessionID).First(&session).Error
		if err == gorm.ErrRecordNotFound {
			return apperr.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load linking session: %w", err)
		}
		if time.Since(session.CreatedAt) > linkingSessionTTL {
			return apperr.ErrNotFound
		}
		if bcrypt.CompareHashAndPassword([]byte(session.TokenHash), []byte(token)) != nil {
			return apperr.ErrUnauthorized
		}

		var source model.User
		if err := tx.Where("id = ?", session.UserID).First(&source).Error; err != nil {
			return fmt.Errorf("failed to load source user: %w", err)
		}
		if !source.IsAnonymous {
			return apperr.Validationf("source account is not anonymous")
		}

		if err := tx.Model(&model.Chat{}).
			Where("owner_id = ?", source.ID).
			Update("owner_id", targetUserID).Error; err != nil {
			return fmt.Errorf("failed to transfer chats: %w", err)
		}

		now := time.Now().UnixMilli()
		if err := tx.Model(&model.User{}).
			Where("id = ?", source.ID).
			Update("delete_time", now).Error; err != nil {
			return fmt.Errorf("failed to retire source user: %w", err)
		}
		return tx.Delete(&session).Error
	})
}

// SweepStale drops linking sessions past their redemption window
func (s *LinkingService) SweepStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-linkingSessionTTL)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.LinkingSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to sweep linking sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}
