package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/maxzhirnov/otp-auth/internal/hash"
	"github.com/maxzhirnov/otp-auth/internal/logging"
	"github.com/maxzhirnov/otp-auth/internal/mail"
	"github.com/maxzhirnov/otp-auth/internal/repo"
	"github.com/maxzhirnov/otp-auth/internal/tokens"
)

var (
	ErrUserNotFound = errors.New("user does not exist")
	ErrInvalidOTP   = errors.New("otp is incorrect")
	ErrOTPExpired   = errors.New("otp has expired")
	ErrTokenInvalid = errors.New("invalid refresh token")
	ErrTokenReuse   = errors.New("refresh token mismatch")
	ErrNoSession    = errors.New("no active session")
	ErrMail         = errors.New("mail delivery failed")
)

// AuthService owns the OTP flow and the refresh-token rotation protocol.
// Exactly one refresh lineage is valid per user; its SHA-256 fingerprint is
// the only thing persisted.
type AuthService struct {
	Repo   *repo.GormRepo
	Tokens *tokens.Manager
	Mailer mail.Mailer
	OTPTTL time.Duration

	// Now is replaceable in tests; defaults to time.Now.
	Now func() time.Time
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	UserID       uuid.UUID
	Email        string
	Role         string
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SendOTP upserts the user, stores a hashed 6-digit code and emails it.
func (s *AuthService) SendOTP(ctx context.Context, email string) error {
	l := logging.FromContext(ctx).With("svc", "auth.send_otp")

	code, err := generateOTP()
	if err != nil {
		l.Error("otp_generation_failed", "error", err)
		return err
	}
	otpHash, err := hash.HashOTP(code)
	if err != nil {
		l.Error("otp_hash_failed", "error", err)
		return err
	}

	expiry := s.now().Add(s.OTPTTL)
	if _, err := s.Repo.UpsertOTPByEmail(ctx, email, otpHash, expiry); err != nil {
		l.Error("otp_upsert_failed", "error", err)
		return err
	}

	if err := s.Mailer.SendOTP(ctx, email, code); err != nil {
		l.Error("otp_mail_failed", "error", err)
		return fmt.Errorf("%w: %v", ErrMail, err)
	}

	l.Info("otp_sent")
	return nil
}

// SignIn verifies the emailed code and opens a session: the OTP is burned, a
// refresh token is minted and its fingerprint overwrites any prior lineage.
func (s *AuthService) SignIn(ctx context.Context, email, code string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.sign_in")

	user, err := s.Repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if user.OTPHash == "" || !hash.CheckOTP(user.OTPHash, code) {
		l.Warn("sign_in_failed", "reason", "otp_mismatch")
		return nil, ErrInvalidOTP
	}
	if s.now().After(user.OTPExpiry) {
		l.Warn("sign_in_failed", "reason", "otp_expired")
		return nil, ErrOTPExpired
	}

	pair, err := s.issue(ctx, user.ID, user.Email, user.Role)
	if err != nil {
		l.Error("sign_in_failed", "error", err)
		return nil, err
	}

	l.Info("sign_in_successful", "user_id", user.ID)
	return pair, nil
}

func (s *AuthService) issue(ctx context.Context, id uuid.UUID, email, role string) (*TokenPair, error) {
	now := s.now()

	refresh, refreshExp, err := s.Tokens.SignRefresh(id.String(), now)
	if err != nil {
		return nil, err
	}
	fp := tokens.Fingerprint(refresh)
	if err := s.Repo.UpdateFingerprintAndOTP(ctx, id, &fp); err != nil {
		return nil, err
	}

	access, accessExp, err := s.Tokens.SignAccess(id.String(), role, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
		UserID:       id,
		Email:        email,
		Role:         role,
	}, nil
}

// Refresh rotates the token pair. The presented token must verify and its
// fingerprint must match the stored one; any mismatch is treated as reuse and
// kills the whole lineage, forcing a fresh sign-in.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	user, presentedFP, err := s.resolve(ctx, rawRefresh, l)
	if err != nil {
		return nil, err
	}

	now := s.now()
	newRefresh, refreshExp, err := s.Tokens.SignRefresh(user.ID.String(), now)
	if err != nil {
		return nil, err
	}
	newFP := tokens.Fingerprint(newRefresh)

	// The new fingerprint lands only if ours is still the stored one. Losing
	// the race means someone else consumed this token first: same as reuse.
	if err := s.Repo.SwapFingerprint(ctx, user.ID, presentedFP, &newFP); err != nil {
		if errors.Is(err, repo.ErrFingerprintMismatch) {
			l.Warn("refresh_race_detected", "user_id", user.ID)
			s.defensiveClear(ctx, user.ID, l)
			return nil, ErrTokenReuse
		}
		return nil, err
	}

	access, accessExp, err := s.Tokens.SignAccess(user.ID.String(), user.Role, now)
	if err != nil {
		return nil, err
	}

	l.Info("tokens_rotated", "user_id", user.ID)
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
	}, nil
}

// SignOut closes the session. Idempotent: a second call reports ErrNoSession
// instead of failing.
func (s *AuthService) SignOut(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.sign_out")

	user, _, err := s.resolve(ctx, rawRefresh, l)
	if err != nil {
		return nil, err
	}

	if err := s.Repo.ClearFingerprint(ctx, user.ID); err != nil {
		// The session must not survive a failed sign-out.
		s.defensiveClear(ctx, user.ID, l)
		return nil, err
	}

	l.Info("sign_out_successful", "user_id", user.ID)
	return &TokenPair{UserID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// resolve runs the shared verification steps of Rotate and Revoke: parse and
// verify the token, load the user, compare fingerprints. A mismatch clears
// the stored fingerprint before reporting reuse.
func (s *AuthService) resolve(ctx context.Context, rawRefresh string, l *slog.Logger) (*userWithFP, string, error) {
	claims, err := s.Tokens.ParseRefresh(rawRefresh)
	if err != nil {
		l.Warn("refresh_token_invalid", "error", err)
		return nil, "", ErrTokenInvalid
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		l.Warn("refresh_token_invalid", "error", err)
		return nil, "", ErrTokenInvalid
	}

	user, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, "", ErrUserNotFound
		}
		return nil, "", err
	}

	if user.RefreshHash == nil {
		return nil, "", ErrNoSession
	}

	fp := tokens.Fingerprint(rawRefresh)
	if *user.RefreshHash != fp {
		l.Warn("refresh_token_reuse_detected", "user_id", user.ID)
		s.defensiveClear(ctx, user.ID, l)
		return nil, "", ErrTokenReuse
	}

	return &userWithFP{ID: user.ID, Email: user.Email, Role: user.Role}, fp, nil
}

type userWithFP struct {
	ID    uuid.UUID
	Email string
	Role  string
}

func (s *AuthService) defensiveClear(ctx context.Context, id uuid.UUID, l *slog.Logger) {
	if err := s.Repo.ClearFingerprint(ctx, id); err != nil {
		l.Warn("fingerprint_clear_failed", "user_id", id, "error", err)
	}
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}
