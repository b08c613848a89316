package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// loggingWallet stands in for the external wallet service. Prize credits are
// logged so an operator can reconcile them; the real integration replaces
// this at deploy time.
type loggingWallet struct {
	log zerolog.Logger
}

func (w *loggingWallet) Credit(_ context.Context, userID string, amount int64, reference string) error {
	w.log.Info().
		Str("user_id", userID).
		Int64("amount", amount).
		Str("reference", reference).
		Msg("wallet credit")
	return nil
}

// loggingBans stands in for the external ban service.
type loggingBans struct {
	log zerolog.Logger
}

func (b *loggingBans) TempBan(_ context.Context, userID string, duration time.Duration, reason string) error {
	b.log.Warn().
		Str("user_id", userID).
		Dur("duration", duration).
		Str("reason", reason).
		Msg("temporary ban")
	return nil
}
