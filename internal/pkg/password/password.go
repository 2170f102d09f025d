package password

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinLength = 6
	// bcrypt ignores everything past 72 bytes.
	MaxLength = 72
)

// Validate checks length bounds only; strength policy is left to clients.
func Validate(plain string) error {
	if len(plain) < MinLength {
		return fmt.Errorf("password must be at least %d characters", MinLength)
	}
	if len(plain) > MaxLength {
		return fmt.Errorf("password must be at most %d bytes", MaxLength)
	}
	return nil
}

func Hash(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func Compare(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
