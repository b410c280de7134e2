package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maxzhirnov/otp-auth/internal/models"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrFingerprintMismatch = errors.New("refresh fingerprint changed concurrently")
)

type GormRepo struct {
	DB *gorm.DB
}

func (r *GormRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpsertOTPByEmail creates the user on first contact and stores the hashed OTP
// with its expiry, overwriting any previous code.
func (r *GormRepo) UpsertOTPByEmail(ctx context.Context, email, otpHash string, expiry time.Time) (*models.User, error) {
	user := models.User{Email: email, Role: models.RoleUser}
	if err := r.DB.WithContext(ctx).Where("email = ?", email).FirstOrCreate(&user).Error; err != nil {
		return nil, err
	}
	updates := map[string]any{"otp_hash": otpHash, "otp_expiry": expiry}
	if err := r.DB.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateFingerprintAndOTP stores a new refresh fingerprint (nil clears the
// session) and burns the consumed OTP in the same update.
func (r *GormRepo) UpdateFingerprintAndOTP(ctx context.Context, id uuid.UUID, fingerprint *string) error {
	updates := map[string]any{
		"refresh_hash": fingerprint,
		"otp_hash":     "",
		"otp_expiry":   time.Time{},
	}
	return r.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates).Error
}

// SwapFingerprint replaces the stored fingerprint only if it still equals
// expected. Zero rows affected means another rotation won the race; the caller
// must treat that as a mismatch, not overwrite.
func (r *GormRepo) SwapFingerprint(ctx context.Context, id uuid.UUID, expected string, next *string) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_hash = ?", id, expected).
		Update("refresh_hash", next)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (r *GormRepo) ClearFingerprint(ctx context.Context, id uuid.UUID) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("refresh_hash", nil).Error
}
