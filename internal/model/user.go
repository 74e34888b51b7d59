package model

import "time"

// User represents an account holder as stored in the `users` table.
// Each field corresponds to a column. The json tags are omitted because
// these structs are used internally by the store layer; handlers define
// separate response types with appropriate JSON tags.
//
// Fields:
//  ID                    – primary key (UUID).
//  Email                 – unique, lowercase-normalized email address.
//  PasswordHash          – bcrypt hashed password. Never returned to clients.
//  Name                  – display name.
//  AvatarURL             – optional avatar location.
//  EmailVerified         – whether the address has been confirmed.
//  VerificationToken     – pending email-verification token (empty once used).
//  VerificationExpires   – expiry of the verification token.
//  VerificationSentAt    – when the last verification mail went out.
//  VerificationSendCount – resend counter driving the exponential backoff.
//  TOTPSecret            – base32 TOTP secret; set during enrollment, kept
//                          only while pending or enabled.
//  TOTPEnabled           – whether app-based 2FA is active.
//  Email2FAEnabled       – whether emailed one-time codes are active.
//  BackupCodes           – JSON array of unused single-use recovery codes.
//  TwoFACodeSentAt       – when the last login code mail went out.
//  TwoFACodeSendCount    – resend counter for login codes.
//  PendingEmail          – requested new address awaiting confirmation.
//  PendingEmailToken     – single-use email-change token.
//  PendingEmailExpires   – expiry of the email-change token.
//  CreatedAt, UpdatedAt  – row timestamps.
type User struct {
	ID                    string     // users.id
	Email                 string     // users.email
	PasswordHash          string     // users.password_hash
	Name                  string     // users.name
	AvatarURL             string     // users.avatar_url
	EmailVerified         bool       // users.email_verified
	VerificationToken     string     // users.email_verification_token
	VerificationExpires   *time.Time // users.email_verification_expires (nullable)
	VerificationSentAt    *time.Time // users.last_verification_email_sent (nullable)
	VerificationSendCount int        // users.verification_email_count
	TOTPSecret            string     // users.totp_secret
	TOTPEnabled           bool       // users.totp_enabled
	Email2FAEnabled       bool       // users.two_factor_email_enabled
	BackupCodes           string     // users.backup_codes (JSON array)
	TwoFACodeSentAt       *time.Time // users.last_2fa_code_sent (nullable)
	TwoFACodeSendCount    int        // users.twofa_code_count
	PendingEmail          string     // users.pending_email
	PendingEmailToken     string     // users.pending_email_token
	PendingEmailExpires   *time.Time // users.pending_email_expires (nullable)
	CreatedAt             time.Time  // users.created_at
	UpdatedAt             time.Time  // users.updated_at
}

// TwoFAEnabled reports whether any second factor is active for the user.
func (u *User) TwoFAEnabled() bool {
	return u.TOTPEnabled || u.Email2FAEnabled
}
