package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRequest struct {
	Name   string   `json:"name" validate:"required,max=10"`
	Email  string   `json:"email,omitempty" validate:"omitempty,email"`
	Result string   `json:"result" validate:"required,oneof=success failure"`
	Tags   []string `json:"tags,omitempty" validate:"omitempty,dive,max=3"`
	Hidden string   `json:"-"`
	Plain  int      `validate:"gte=0"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		r := testRequest{Name: "deploy", Result: "success", Email: "ops@example.com"}
		assert.NoError(t, ValidateStruct(&r))
	})

	t.Run("fields are reported by json name", func(t *testing.T) {
		r := testRequest{Email: "not-an-email", Result: "maybe", Tags: []string{"ok", "too-long"}, Plain: -1}

		err := ValidateStruct(&r)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "name is required", fields["name"])
		assert.Equal(t, "email must be a valid email", fields["email"])
		assert.Equal(t, "result must be one of: success failure", fields["result"])
		assert.Equal(t, "tags[1] must be at most 3", fields["tags[1]"])
		assert.Equal(t, "Plain must be greater than or equal to 0", fields["Plain"])
	})

	t.Run("max length", func(t *testing.T) {
		r := testRequest{Name: "a-very-long-name", Result: "failure"}

		fields := GetValidationFields(ValidateStruct(&r))
		assert.Equal(t, "name must be at most 10", fields["name"])
	})

	t.Run("non struct input", func(t *testing.T) {
		err := ValidateStruct("not a struct")
		assert.Error(t, err)
		assert.False(t, IsValidationError(err))
	})
}

func TestValidateUUID(t *testing.T) {
	assert.NoError(t, ValidateUUID("123e4567-e89b-12d3-a456-426614174000"))
	assert.Error(t, ValidateUUID("not-a-uuid"))
	assert.Error(t, ValidateUUID(""))
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "Validation failed", Fields: map[string]string{"name": "name is required"}}
	assert.Equal(t, "Validation failed", err.Error())
}

func TestGetValidationFields_NonValidationError(t *testing.T) {
	assert.Nil(t, GetValidationFields(errors.New("other")))
	assert.False(t, IsValidationError(errors.New("other")))
}
