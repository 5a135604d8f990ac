package email

import (
	"context"
	"errors"
	"fmt"
	"log"
)

var errNoPrimary = errors.New("email: no primary transport configured")

// MirroringSender delivers through one primary transport and copies each message
// to any number of mirrors (the LOG_EMAILS file, for instance). Only the primary
// decides whether a message was dispatched; mirror failures are logged.
type MirroringSender struct {
	primary Sender
	mirrors []Sender
}

// NewMirroringSender wraps primary, which may not be nil for Send to succeed.
func NewMirroringSender(primary Sender) *MirroringSender {
	return &MirroringSender{primary: primary}
}

// Mirror adds a copy target. Nil senders are ignored.
func (ms *MirroringSender) Mirror(sender Sender) {
	if sender != nil {
		ms.mirrors = append(ms.mirrors, sender)
	}
}

// Send hands the message to the primary transport, then to every mirror.
// Mirrors receive the copy even when the primary fails.
func (ms *MirroringSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if ms.primary == nil {
		return errNoPrimary
	}

	primaryErr := ms.primary.Send(ctx, to, subject, rawMessage)
	for _, mirror := range ms.mirrors {
		if err := mirror.Send(ctx, to, subject, rawMessage); err != nil {
			log.Printf("WARN: mirroring email %q to %v failed: %v", subject, to, err)
		}
	}

	if primaryErr != nil {
		return fmt.Errorf("email dispatch failed: %w", primaryErr)
	}
	return nil
}
