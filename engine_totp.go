package guardian

import "context"

// SetupTOTP generates a new secret for email and stores it as pending. Any
// second factor already enabled stays off until EnableTOTP confirms the new
// secret.
func (e *Engine) SetupTOTP(ctx context.Context, email string) (*TOTPSetup, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	setup, err := e.flow.SetupTOTP(ctx, email)
	if err != nil {
		return nil, err
	}
	return &TOTPSetup{Secret: setup.Secret, URI: setup.URI}, nil
}

// EnableTOTP switches the pending secret on once code matches it. It
// returns ErrTOTPNotConfigured before SetupTOTP and ErrTOTPInvalid for a
// wrong code.
func (e *Engine) EnableTOTP(ctx context.Context, email, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flow.EnableTOTP(ctx, email, code)
}

// DisableTOTP removes the second factor from email.
func (e *Engine) DisableTOTP(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flow.DisableTOTP(ctx, email)
}

// TOTPStatus reports whether email must present a one-time code at login.
func (e *Engine) TOTPStatus(ctx context.Context, email string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	acct, err := e.flow.FindAccount(ctx, email)
	if err != nil {
		return false, err
	}
	return acct.TOTPEnabled, nil
}
