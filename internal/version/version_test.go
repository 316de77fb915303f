package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	b := Get()
	assert.NotEmpty(t, b.Version)
	assert.NotEmpty(t, b.Commit)
	assert.NotEmpty(t, b.Date)
}

func TestString(t *testing.T) {
	b := Build{Version: "1.2.0", Commit: "abc123", Date: "2026-01-01"}
	assert.Equal(t, "version=1.2.0 commit=abc123 date=2026-01-01", b.String())
	assert.Equal(t, "checkout-service/1.2.0", b.UserAgent())
}
