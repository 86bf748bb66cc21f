package common

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionID(t *testing.T) {
	at := time.Date(2026, 3, 16, 10, 50, 3, 0, time.UTC)
	assert.Equal(t, "20260316_105003", NewSessionID(at))
}

func TestNewDownloadID(t *testing.T) {
	first := NewDownloadID()
	second := NewDownloadID()

	assert.True(t, strings.HasPrefix(first, "dl_"))
	assert.NotEqual(t, first, second)
}
