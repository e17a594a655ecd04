package store

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrNoPassword = errors.New("no admin password configured")

// SetPassword stores a bcrypt hash of the admin password in the settings row.
func (s *Store) SetPassword(plain string) error {
	if len(plain) < 4 {
		return errors.New("password must be at least 4 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.UpdateSettings(map[string]any{"password_hash": string(hash)})
}

// VerifyPassword checks plain against the stored hash. A store without a
// configured password denies every attempt rather than falling open.
func (s *Store) VerifyPassword(plain string) error {
	st, err := s.Settings()
	if err != nil {
		return err
	}
	if st.PasswordHash == "" {
		return ErrNoPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(st.PasswordHash), []byte(plain))
}

// HasPassword reports whether an admin password has been configured.
func (s *Store) HasPassword() (bool, error) {
	st, err := s.Settings()
	if err != nil {
		return false, err
	}
	return st.PasswordHash != "", nil
}
