package authflow

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Validation messages, in the order they are checked
const (
	MsgFillAllFields    = "Please fill in all fields"
	MsgEnterName        = "Please enter your name"
	MsgInvalidEmail     = "Please enter a valid email address"
	MsgPasswordTooShort = "Password must be at least 6 characters"
	MsgPasswordMismatch = "Passwords do not match"
)

// MinPasswordLength is the shortest password accepted at sign-up
const MinPasswordLength = 6

var basicEmail = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError is a form problem caught before any remote call
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type signInInput struct {
	Email    string `validate:"required,basic_email"`
	Password string `validate:"required"`
}

type signUpInput struct {
	Name            string `validate:"required"`
	Email           string `validate:"required,basic_email"`
	Password        string `validate:"required,min=6"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("basic_email", func(fl validator.FieldLevel) bool {
		return basicEmail.MatchString(fl.Field().String())
	})
	return validate
}

// rule maps one failed field/tag pair to a user-facing message
type rule struct {
	field, tag, message string
}

// rules are ordered by priority; the first match wins
var rules = []rule{
	{"Email", "required", MsgFillAllFields},
	{"Password", "required", MsgFillAllFields},
	{"ConfirmPassword", "required", MsgFillAllFields},
	{"Name", "required", MsgEnterName},
	{"Email", "basic_email", MsgInvalidEmail},
	{"Password", "min", MsgPasswordTooShort},
	{"ConfirmPassword", "eqfield", MsgPasswordMismatch},
}

// check validates input and returns the highest-priority problem, or nil
func check(validate *validator.Validate, input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: err.Error()}
	}

	failed := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		failed[fe.Field()] = fe.Tag()
	}
	for _, r := range rules {
		if failed[r.field] == r.tag {
			return &ValidationError{Message: r.message}
		}
	}
	return &ValidationError{Message: verrs[0].Error()}
}
