package rp_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	// Given.
	wrapped := rp.WrapError(rp.ErrorCodeProviderUntrusted, "no trust chain", errors.New("boom"))
	deep := fmt.Errorf("handling request: %w", wrapped)

	// Then the code survives wrapping, and plain errors map to internal.
	assert.Equal(t, rp.ErrorCodeProviderUntrusted, rp.CodeOf(wrapped))
	assert.Equal(t, rp.ErrorCodeProviderUntrusted, rp.CodeOf(deep))
	assert.Equal(t, rp.ErrorCodeInternalError, rp.CodeOf(errors.New("boom")))
}

func TestError_Unwrap(t *testing.T) {
	// Given.
	cause := errors.New("connection refused")
	err := rp.WrapError(rp.ErrorCodeFetchFailed, "could not fetch", cause)

	// Then.
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetch_failed")
	assert.Contains(t, err.Error(), "connection refused")
}
