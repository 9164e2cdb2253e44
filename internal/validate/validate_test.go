package validate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chatcode/internal/apperror"
)

type signupForm struct {
	Username string `form:"username" validate:"required,username"`
	Password string `form:"password" validate:"required,min=6,max=72"`
	Email    string `form:"email"    validate:"omitempty,email"`
	Phone    string `form:"phone"    validate:"required,phone"`
}

func validForm() signupForm {
	return signupForm{
		Username: "alice_01",
		Password: "secret1",
		Email:    "alice@example.com",
		Phone:    "+77011234567",
	}
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(validForm()))

	f := validForm()
	f.Email = ""
	assert.NoError(t, Struct(f), "email is optional")
}

func TestStruct_FirstFailureReported(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*signupForm)
		wantField string
		wantMsg   string
	}{
		{"missing username", func(f *signupForm) { f.Username = "" }, "username", "username is required"},
		{"short username", func(f *signupForm) { f.Username = "ab" }, "username", "username must be 3-24 characters: letters, digits, _ or -"},
		{"bad username chars", func(f *signupForm) { f.Username = "al ice" }, "username", "username must be 3-24 characters: letters, digits, _ or -"},
		{"short password", func(f *signupForm) { f.Password = "12345" }, "password", "password must be at least 6 characters"},
		{"bad email", func(f *signupForm) { f.Email = "not-an-email" }, "email", "email address is not valid"},
		{"bad phone", func(f *signupForm) { f.Phone = "87011234567" }, "phone", "phone must be in international format, e.g. +77011234567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validForm()
			tt.mutate(&f)

			err := Struct(f)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrValidation))

			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.wantField, appErr.Field)
			assert.Equal(t, tt.wantMsg, appErr.Message)
		})
	}
}

func TestStruct_NotAStruct(t *testing.T) {
	err := Struct("nope")
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperror.ErrValidation))
}
