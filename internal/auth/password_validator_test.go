package auth

import (
	"strings"
	"testing"
	"unicode"

	"pgregory.net/rapid"
)

func TestPasswordComplexityValidation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		validator := NewPasswordValidator(DefaultPasswordPolicy())
		password := rapid.StringN(0, 20, 20).Draw(t, "password")

		hasUpper, hasLower, hasNumber, hasSpecial := false, false, false, false
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

		expectedErrorCount := 0
		if len(password) < DefaultPasswordPolicy().MinLength {
			expectedErrorCount++
		}
		if !hasUpper {
			expectedErrorCount++
		}
		if !hasLower {
			expectedErrorCount++
		}
		if !hasNumber {
			expectedErrorCount++
		}
		if !hasSpecial {
			expectedErrorCount++
		}
		banned := false
		for _, p := range commonPasswords {
			if strings.EqualFold(p, password) {
				banned = true
			}
		}
		if banned {
			expectedErrorCount++
		}

		errors := validator.ValidatePassword(password)
		if len(errors) != expectedErrorCount {
			t.Errorf("expected %d errors, got %d", expectedErrorCount, len(errors))
		}
	})
}

func TestCommonPasswordsRejectedRegardlessOfCase(t *testing.T) {
	validator := NewPasswordValidator(PasswordPolicy{MinLength: 1})

	for _, password := range []string{"password", "PASSWORD", "Qwerty123", "LetMeIn"} {
		if validator.IsValidPassword(password) {
			t.Errorf("deny-listed password accepted: %q", password)
		}
	}

	if !validator.IsValidPassword("Tr1cky&Unique") {
		t.Error("compliant password rejected")
	}
}

func TestStrongPasswordPassesDefaultPolicy(t *testing.T) {
	validator := NewPasswordValidator(DefaultPasswordPolicy())

	if errs := validator.ValidatePassword("Str0ng!Pass2024"); len(errs) != 0 {
		t.Errorf("strong password rejected: %v", errs)
	}
}

func TestRelaxedPolicySkipsDisabledRules(t *testing.T) {
	validator := NewPasswordValidator(PasswordPolicy{
		MinLength:    6,
		RequireUpper: false,
	})

	errs := validator.ValidatePassword("abcdef")
	for _, e := range errs {
		if strings.Contains(e.Message, "uppercase") {
			t.Errorf("disabled rule still enforced: %s", e.Message)
		}
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	validator := NewPasswordValidator(DefaultPasswordPolicy())

	hash, err := validator.HashPassword("S3cure!pass")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	if hash == "S3cure!pass" {
		t.Fatal("hash equals plaintext")
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}

	if err := validator.VerifyPassword("S3cure!pass", hash); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := validator.VerifyPassword("wrong", hash); err == nil {
		t.Error("wrong password accepted")
	}
}

func TestAdminCodeHashedLikePassword(t *testing.T) {
	validator := NewPasswordValidator(DefaultPasswordPolicy())

	hash, err := validator.HashAdminCode("admin-shared-secret")
	if err != nil {
		t.Fatalf("failed to hash admin code: %v", err)
	}
	if strings.Contains(hash, "admin-shared-secret") {
		t.Fatal("admin code stored in recoverable form")
	}

	if err := validator.VerifyAdminCode("admin-shared-secret", hash); err != nil {
		t.Errorf("correct admin code rejected: %v", err)
	}
	if err := validator.VerifyAdminCode("guess", hash); err == nil {
		t.Error("wrong admin code accepted")
	}
}
