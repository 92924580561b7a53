package session

import "context"

// Repository is the durable storage of the session record. Implementations
// must write and clear all three keys together; Load returns
// serviceerr.ErrNotFound when nothing is stored.
type Repository interface {
	Load(ctx context.Context) (Record, error)
	Store(ctx context.Context, rec Record) error
	Clear(ctx context.Context) error
}

// AuthAPI is the backend authentication collaborator.
type AuthAPI interface {
	RequestOTP(ctx context.Context, email string) (OTPChallenge, error)
	VerifyOTP(ctx context.Context, email, otp string) (Tokens, error)
	SignIn(ctx context.Context, email, password string) (Tokens, error)
	SignUp(ctx context.Context, email, password, confirmation string) (Tokens, error)
	CurrentIdentity(ctx context.Context) (Identity, error)
	Logout(ctx context.Context) error
}
