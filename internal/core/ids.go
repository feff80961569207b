package core

import "github.com/google/uuid"

// PinLength is the number of digits in a share pin.
const PinLength = 10

// NewCloudID mints the identifier correlating a local expense with its cloud document.
func NewCloudID() string {
	return uuid.NewString()
}

// IsValidPin reports whether pin has PinLength ASCII digits.
func IsValidPin(pin string) bool {
	if len(pin) != PinLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
