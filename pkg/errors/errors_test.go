package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	pkgerrors "github.com/agentstation/assetsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := pkgerrors.New("test error")
	assert.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestNotFoundError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := &pkgerrors.NotFoundError{
			Resource: "asset",
			ID:       "1234",
		}
		assert.Equal(t, "asset with ID 1234 not found", err.Error())
		assert.True(t, errors.Is(err, pkgerrors.ErrNotFound))
	})

	t.Run("wrapped error", func(t *testing.T) {
		base := pkgerrors.NewNotFoundError("source", "http://aas:8080")
		wrapped := fmt.Errorf("lookup: %w", base)
		assert.True(t, pkgerrors.IsNotFound(wrapped))
	})
}

func TestValidationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := pkgerrors.NewValidationError("sync_period", 0, "must be positive")
		assert.Equal(t, "validation failed for field sync_period: must be positive", err.Error())
		assert.True(t, pkgerrors.IsValidationError(err))
	})

	t.Run("without field", func(t *testing.T) {
		err := &pkgerrors.ValidationError{Message: "invalid configuration"}
		assert.Equal(t, "validation failed: invalid configuration", err.Error())
	})
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
	}{
		{"not found", http.StatusNotFound, pkgerrors.ErrNotFound},
		{"method not allowed", http.StatusMethodNotAllowed, pkgerrors.ErrMethodNotAllowed},
		{"conflict", http.StatusConflict, pkgerrors.ErrAlreadyExists},
		{"server error", http.StatusBadGateway, pkgerrors.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pkgerrors.NewAPIError("http://aas:8080", tt.status, "boom")
			assert.True(t, errors.Is(err, tt.target))
			assert.Contains(t, err.Error(), fmt.Sprint(tt.status))
		})
	}

	t.Run("bad request matches nothing", func(t *testing.T) {
		err := pkgerrors.NewAPIError("http://aas:8080", http.StatusBadRequest, "bad")
		assert.False(t, pkgerrors.IsNotFound(err))
		assert.False(t, pkgerrors.IsUnavailable(err))
	})
}

func TestWrapAPI(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, pkgerrors.WrapAPI("src", 500, nil))
	})

	t.Run("unauthorized becomes authentication error", func(t *testing.T) {
		for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
			err := pkgerrors.WrapAPI("src", status, errors.New("denied"))
			var authErr *pkgerrors.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, status, authErr.StatusCode)
			assert.True(t, pkgerrors.IsUnauthorized(err))
		}
	})

	t.Run("other status becomes api error", func(t *testing.T) {
		base := errors.New("gateway")
		err := pkgerrors.WrapAPI("src", http.StatusServiceUnavailable, base)
		var apiErr *pkgerrors.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, pkgerrors.IsUnavailable(err))
		assert.ErrorIs(t, err, base)
	})
}

func TestSyncError(t *testing.T) {
	err := pkgerrors.NewSyncError("http://aas:8080", "fatal", []string{"unauthorized"}, pkgerrors.ErrUnauthorized)
	assert.Contains(t, err.Error(), "fatal sync failure for source http://aas:8080")
	assert.True(t, pkgerrors.IsUnauthorized(err))
}

func TestWrapHelpers(t *testing.T) {
	base := errors.New("disk full")

	t.Run("io", func(t *testing.T) {
		err := pkgerrors.WrapIO("write", "/tmp/registry.db", base)
		assert.Equal(t, "IO error during write of /tmp/registry.db: disk full", err.Error())
		assert.ErrorIs(t, err, base)
		assert.NoError(t, pkgerrors.WrapIO("write", "x", nil))
	})

	t.Run("resource", func(t *testing.T) {
		err := pkgerrors.WrapResource("create", "asset", "42", base)
		assert.Equal(t, "failed to create asset 42: disk full", err.Error())
		assert.NoError(t, pkgerrors.WrapResource("create", "asset", "42", nil))
	})

	t.Run("parse", func(t *testing.T) {
		err := pkgerrors.WrapParse("yaml", "env.yaml", base)
		assert.Equal(t, "parse error in yaml file env.yaml: disk full", err.Error())
	})

	t.Run("validation", func(t *testing.T) {
		err := pkgerrors.WrapValidation("registry", base)
		assert.True(t, pkgerrors.IsValidationError(err))
	})
}

func TestSentinelHelpers(t *testing.T) {
	assert.True(t, pkgerrors.IsAlreadyExists(fmt.Errorf("x: %w", pkgerrors.ErrAlreadyExists)))
	assert.True(t, pkgerrors.IsDuplicateKeys(fmt.Errorf("x: %w", pkgerrors.ErrDuplicateKeys)))
	assert.True(t, pkgerrors.IsLeased(fmt.Errorf("x: %w", pkgerrors.ErrLeased)))
	assert.True(t, pkgerrors.IsTimeout(pkgerrors.NewTimeoutError("fetch", "2m", "slow")))
	assert.True(t, pkgerrors.IsCanceled(fmt.Errorf("x: %w", pkgerrors.ErrCanceled)))
	assert.True(t, pkgerrors.IsMethodNotAllowed(fmt.Errorf("x: %w", pkgerrors.ErrMethodNotAllowed)))
}
