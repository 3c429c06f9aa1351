package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/marketplace/payouts/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validationEnvelope struct {
	Success bool `json:"success"`
	Error   struct {
		Code      string                 `json:"code"`
		Message   string                 `json:"message"`
		RequestID string                 `json:"request_id"`
		Details   []dto.ValidationDetail `json:"details"`
	} `json:"error"`
}

func TestSetupValidator(t *testing.T) {
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	assert.True(t, ok)
	assert.NotNil(t, v)
}

func TestHandleValidationError(t *testing.T) {
	type transferInput struct {
		TransferReference string `json:"transfer_reference" binding:"required,max=64"`
		Channel           string `json:"channel" binding:"omitempty,oneof=ach wire"`
	}

	SetupValidator()

	router := gin.New()
	router.Use(RequestID())
	router.POST("/test", func(c *gin.Context) {
		var req transferInput
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(RequestIDHeader, "req-validate")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("reports fields by json name", func(t *testing.T) {
		w := post(`{"channel":"cheque"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp validationEnvelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.Equal(t, "Request validation failed", resp.Error.Message)
		assert.Equal(t, "req-validate", resp.Error.RequestID)
		assert.ElementsMatch(t, []dto.ValidationDetail{
			{Field: "transfer_reference", Message: "This field is required"},
			{Field: "channel", Message: "Must be one of: ach wire"},
		}, resp.Error.Details)
	})

	t.Run("malformed JSON has no details", func(t *testing.T) {
		w := post(`{"transfer_reference":`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp validationEnvelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.True(t, strings.HasPrefix(resp.Error.Message, "Malformed request"))
		assert.Empty(t, resp.Error.Details)
	})

	t.Run("valid input passes", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, post(`{"transfer_reference":"TX-1"}`).Code)
	})
}

func TestGetValidationMessage(t *testing.T) {
	type sample struct {
		Required string `validate:"required"`
		Min      string `validate:"min=5"`
		Max      string `validate:"max=3"`
		UUID     string `validate:"uuid"`
		GTE      int    `validate:"gte=10"`
	}

	err := validator.New().Struct(sample{Max: "toolong", UUID: "nope", GTE: 1})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)

	messages := make(map[string]string, len(validationErrs))
	for _, e := range validationErrs {
		messages[e.Field()] = getValidationMessage(e)
	}

	assert.Equal(t, "This field is required", messages["Required"])
	assert.Equal(t, "Must be at least 5 characters", messages["Min"])
	assert.Equal(t, "Must be at most 3 characters", messages["Max"])
	assert.Equal(t, "Invalid UUID format", messages["UUID"])
	assert.Equal(t, "Must be greater than or equal to 10", messages["GTE"])
}
