package validator

import (
	"errors"
	"regexp"
)

var (
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrInvalidMT5Account  = errors.New("invalid mt5 account id")
	ErrInvalidAccountName = errors.New("invalid account name")
)

var (
	emailRegex      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernameRegex   = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)
	mt5AccountRegex = regexp.MustCompile(`^[0-9]{4,20}$`)
)

func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	return nil
}

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

// MT5 account numbers are numeric broker logins.
func ValidateMT5AccountID(id string) error {
	if !mt5AccountRegex.MatchString(id) {
		return ErrInvalidMT5Account
	}
	return nil
}

func ValidateAccountName(name string) error {
	if len(name) == 0 || len(name) > 200 {
		return ErrInvalidAccountName
	}
	return nil
}
