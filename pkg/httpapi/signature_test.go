package httpapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	sig := Sign([]byte(`{"calls":[]}`), "secret")

	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, sig, len("sha256=")+64)
	assert.Equal(t, sig, Sign([]byte(`{"calls":[]}`), "secret"))
	assert.NotEqual(t, sig, Sign([]byte(`{"calls":[]}`), "other"))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"calls":[{"name":"geocode"}]}`)
	sig := Sign(body, "secret")

	assert.True(t, verifySignature(body, sig, "secret"))
	assert.False(t, verifySignature(body, sig, "wrong"))
	assert.False(t, verifySignature([]byte(`{}`), sig, "secret"))
	assert.False(t, verifySignature(body, strings.TrimPrefix(sig, "sha256="), "secret"))
}
