package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/natours/apiserver/types"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ProfileChanges lists the profile fields an UpdateProfile call overwrites.
// Nil fields keep their stored value.
type ProfileChanges struct {
	Name  *string
	Email *string
	Photo *string
}

// NormalizeEmail trims and lower-cases an address the way it is stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateAccount checks the field rules of an account.
func ValidateAccount(account types.Account) error {
	if err := validate.Struct(account); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s", ErrInvalidRecord, describeRule(fe.Field(), fe.Tag(), fe.Param()))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return checkResetPair(account)
}

func checkResetPair(account types.Account) error {
	if (account.PasswordResetToken == "") != (account.PasswordResetExpires == nil) {
		return fmt.Errorf("%w: reset token and expiry must be set together", ErrInvalidRecord)
	}
	return nil
}

// prepareProfile normalizes changes in place and validates the fields that
// are set, using the same rules as ValidateAccount.
func prepareProfile(changes *ProfileChanges) error {
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		changes.Name = &name
		if err := validateField("name", name, "required,max=100"); err != nil {
			return err
		}
	}
	if changes.Email != nil {
		email := NormalizeEmail(*changes.Email)
		changes.Email = &email
		if err := validateField("email", email, "required,email,max=254"); err != nil {
			return err
		}
	}
	if changes.Photo != nil && *changes.Photo == "" {
		photo := types.DefaultPhoto
		changes.Photo = &photo
	}
	return nil
}

func validateField(field string, value any, rules string) error {
	err := validate.Var(value, rules)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, describeRule(field, fieldErrs[0].Tag(), fieldErrs[0].Param()))
	}
	return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
}

func describeRule(field, tag, param string) string {
	field = strings.ToLower(field)
	switch tag {
	case "required":
		return field + " is required"
	case "email":
		return "please provide a valid email"
	case "oneof":
		return field + " must be one of: " + param
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

func normalizeAccount(account *types.Account) {
	account.Name = strings.TrimSpace(account.Name)
	account.Email = NormalizeEmail(account.Email)
	if account.Photo == "" {
		account.Photo = types.DefaultPhoto
	}
	if account.Role == "" {
		account.Role = types.DefaultRole
	}
}
