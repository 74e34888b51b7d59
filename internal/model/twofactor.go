package model

import "time"

// Purposes a one-time emailed code may be issued for. A code stored with
// one purpose can never satisfy a verification for another.
const (
	CodePurposeLogin       = "login"
	CodePurposeEnableTOTP  = "enable_totp"
	CodePurposeDisableTOTP = "disable_totp"
	CodePurposeChangeEmail = "change_email"
)

// TwoFactorCode is a one-time emailed code in the `two_factor_codes`
// table. Codes are single-use: once consumed, Used stays set permanently.
//
// Fields:
//  ID        – primary key (UUID).
//  UserID    – owner of the code.
//  Code      – 6-character alphanumeric code.
//  Purpose   – one of the CodePurpose* constants.
//  ExpiresAt – 10 minutes after creation.
//  Used      – consumption flag.
//  CreatedAt – creation timestamp.
type TwoFactorCode struct {
	ID        string    // two_factor_codes.id
	UserID    string    // two_factor_codes.user_id
	Code      string    // two_factor_codes.code
	Purpose   string    // two_factor_codes.purpose
	ExpiresAt time.Time // two_factor_codes.expires_at
	Used      bool      // two_factor_codes.used
	CreatedAt time.Time // two_factor_codes.created_at
}
