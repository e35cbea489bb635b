package auth

import (
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for bcrypt hashing
const BcryptCost = 12

// PasswordPolicy configures the complexity rules enforced at registration.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy returns the platform's standard policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:     8,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// commonPasswords is the fixed deny-list of passwords rejected regardless
// of complexity, compared case-insensitively.
var commonPasswords = []string{
	"password", "password1", "password123", "123456", "12345678",
	"123456789", "qwerty", "qwerty123", "abc123", "letmein",
	"welcome", "admin", "iloveyou", "monkey", "dragon",
	"sunshine", "princess", "football", "charlie", "aa123456",
}

// PasswordValidationError represents a specific password validation failure
type PasswordValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PasswordValidator handles password validation and hashing
type PasswordValidator struct {
	policy   PasswordPolicy
	denylist map[string]struct{}
}

// NewPasswordValidator creates a PasswordValidator enforcing the given
// policy plus the common-password deny-list.
func NewPasswordValidator(policy PasswordPolicy) *PasswordValidator {
	if policy.MinLength <= 0 {
		policy.MinLength = DefaultPasswordPolicy().MinLength
	}
	denylist := make(map[string]struct{}, len(commonPasswords))
	for _, p := range commonPasswords {
		denylist[p] = struct{}{}
	}
	return &PasswordValidator{
		policy:   policy,
		denylist: denylist,
	}
}

// ValidatePassword checks a password against the policy and deny-list.
// Returns the violated rules; empty means compliant.
func (v *PasswordValidator) ValidatePassword(password string) []PasswordValidationError {
	var errors []PasswordValidationError

	if len(password) < v.policy.MinLength {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password is shorter than the required minimum length",
		})
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if v.policy.RequireUpper && !hasUpper {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one uppercase letter",
		})
	}
	if v.policy.RequireLower && !hasLower {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one lowercase letter",
		})
	}
	if v.policy.RequireDigit && !hasNumber {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one number",
		})
	}
	if v.policy.RequireSymbol && !hasSpecial {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one special character",
		})
	}

	if _, banned := v.denylist[strings.ToLower(password)]; banned {
		errors = append(errors, PasswordValidationError{
			Field:   "password",
			Message: "Password is too common",
		})
	}

	return errors
}

// IsValidPassword returns true if the password meets all requirements
func (v *PasswordValidator) IsValidPassword(password string) bool {
	return len(v.ValidatePassword(password)) == 0
}

// HashPassword creates a bcrypt hash of the password
func (v *PasswordValidator) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a password with its bcrypt hash.
// Returns nil if they match, error otherwise.
func (v *PasswordValidator) VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// HashAdminCode hashes an admin security code. The code is a shared secret
// and gets the same treatment as a password: never stored in plaintext.
func (v *PasswordValidator) HashAdminCode(code string) (string, error) {
	return v.HashPassword(code)
}

// VerifyAdminCode compares an admin security code with its stored hash.
func (v *PasswordValidator) VerifyAdminCode(code, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
}
