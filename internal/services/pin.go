package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"snapspend/internal/cloud"
	"snapspend/internal/core"
)

const maxPinAttempts = 8

var ErrPinExhausted = errors.New("could not allocate a unique share pin")

// PinChecker reports whether a pin is already used locally.
type PinChecker interface {
	SharePinExists(ctx context.Context, pin string) (bool, error)
}

// PinAllocator draws random share pins and rejects any already taken,
// locally or in the cloud.
type PinAllocator struct {
	local  PinChecker
	remote cloud.CollectionReader
	random io.Reader
}

func NewPinAllocator(local PinChecker, remote cloud.CollectionReader) *PinAllocator {
	return &PinAllocator{local: local, remote: remote, random: rand.Reader}
}

func (a *PinAllocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxPinAttempts; attempt++ {
		pin, err := randomPin(a.random)
		if err != nil {
			return "", fmt.Errorf("generate pin: %w", err)
		}

		taken, err := a.local.SharePinExists(ctx, pin)
		if err != nil {
			return "", err
		}
		if !taken {
			_, err = a.remote.GetByPin(ctx, pin)
			switch {
			case errors.Is(err, cloud.ErrNotFound):
				return pin, nil
			case err != nil:
				return "", fmt.Errorf("check pin in cloud: %w", err)
			}
		}

		slog.WarnContext(ctx, "Share pin collision, retrying", "attempt", attempt)
	}
	return "", ErrPinExhausted
}

// randomPin returns core.PinLength uniformly distributed digits. Bytes at
// or above 250 are rejected so every digit is equally likely.
func randomPin(r io.Reader) (string, error) {
	digits := make([]byte, 0, core.PinLength)
	buf := make([]byte, core.PinLength)
	for len(digits) < core.PinLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 250 {
				continue
			}
			digits = append(digits, '0'+b%10)
			if len(digits) == core.PinLength {
				break
			}
		}
	}
	return string(digits), nil
}
