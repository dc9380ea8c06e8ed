package repository

import (
	"context"
	"errors"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

var (
	// ErrOtpCodeInvalid is returned when the source rejects a verification code.
	ErrOtpCodeInvalid = errors.New("verification code rejected by source")
	// ErrSessionRejected is returned by Probe when the source no longer
	// accepts the bundle's cookies.
	ErrSessionRejected = errors.New("session rejected by source")
)

// OtpGateway drives the source site's phone-number login flow.
type OtpGateway interface {
	// RequestOtp submits the phone number and triggers code delivery.
	RequestOtp(ctx context.Context, phoneNumber string) error
	// VerifyOtp submits the code and, on success, returns the captured
	// cookie set as a new bundle.
	VerifyOtp(ctx context.Context, phoneNumber, code string) (*entity.SessionBundle, error)
	// Probe performs a lightweight authenticated request with the bundle.
	Probe(ctx context.Context, bundle *entity.SessionBundle) error
}
