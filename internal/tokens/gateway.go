package tokens

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/carelane/clinic-api/pkg/logging"
)

// Gateway mints and redeems guest capability tokens. A token carries no
// identity claims: it is only permission to perform one action on one
// appointment, usable without a login session.
type Gateway struct {
	store  Store
	logger *logging.Logger
}

// NewGateway constructs a token gateway.
func NewGateway(store Store, logger *logging.Logger) *Gateway {
	if store == nil {
		panic("tokens: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{store: store, logger: logger}
}

// MintPair creates one cancel token and one reschedule token bound to the
// appointment and returns the raw values. The raw values are not
// recoverable afterwards.
func (g *Gateway) MintPair(ctx context.Context, appointmentID uuid.UUID) (Pair, error) {
	cancelValue, cancelDigest, err := newValue()
	if err != nil {
		return Pair{}, err
	}
	rescheduleValue, rescheduleDigest, err := newValue()
	if err != nil {
		return Pair{}, err
	}

	if err := g.store.Insert(ctx, appointmentID, PurposeCancel, cancelDigest); err != nil {
		return Pair{}, fmt.Errorf("tokens: mint cancel: %w", err)
	}
	if err := g.store.Insert(ctx, appointmentID, PurposeReschedule, rescheduleDigest); err != nil {
		return Pair{}, fmt.Errorf("tokens: mint reschedule: %w", err)
	}

	g.logger.Debug("token pair minted", "appointment_id", appointmentID)
	return Pair{Cancel: cancelValue, Reschedule: rescheduleValue}, nil
}

// Redeem consumes a token for the given purpose and returns the bound
// appointment id. A second redemption of the same token fails with
// ErrTokenAlreadyUsed; a token for the wrong purpose, an unknown value, or
// a token retired by a cancel/reschedule fails with ErrInvalidToken.
func (g *Gateway) Redeem(ctx context.Context, value string, purpose Purpose) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, ErrInvalidToken
	}
	digest := Digest(value)

	rec, err := g.store.Find(ctx, digest)
	if err != nil {
		return uuid.Nil, err
	}
	if err := checkRedeemable(rec, purpose); err != nil {
		return uuid.Nil, err
	}

	ok, err := g.store.Consume(ctx, digest)
	if err != nil {
		return uuid.Nil, err
	}
	if !ok {
		// Lost a race against a concurrent redemption of the same value.
		return uuid.Nil, ErrTokenAlreadyUsed
	}
	return rec.AppointmentID, nil
}

// Inspect validates a token for the given purpose without consuming it and
// returns the bound appointment id. The token stays live for a later Redeem.
func (g *Gateway) Inspect(ctx context.Context, value string, purpose Purpose) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, ErrInvalidToken
	}
	rec, err := g.store.Find(ctx, Digest(value))
	if err != nil {
		return uuid.Nil, err
	}
	if err := checkRedeemable(rec, purpose); err != nil {
		return uuid.Nil, err
	}
	return rec.AppointmentID, nil
}

// Release returns a consumed token to circulation when the action it was
// spent on did not commit. A token retired by InvalidatePair stays retired.
func (g *Gateway) Release(ctx context.Context, value string) error {
	if value == "" {
		return ErrInvalidToken
	}
	return g.store.Release(ctx, Digest(value))
}

func checkRedeemable(rec *Record, purpose Purpose) error {
	if rec.Purpose != purpose {
		return ErrInvalidToken
	}
	// A consumed token reads as "already used" even if the pair was
	// retired afterwards; only an unused retired token reads as invalid.
	if rec.ConsumedAt != nil {
		return ErrTokenAlreadyUsed
	}
	if rec.InvalidatedAt != nil {
		return ErrInvalidToken
	}
	return nil
}

// InvalidatePair retires every live token bound to the appointment.
func (g *Gateway) InvalidatePair(ctx context.Context, appointmentID uuid.UUID) error {
	return g.store.InvalidateForAppointment(ctx, appointmentID)
}
