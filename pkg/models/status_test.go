package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageStatus_String(t *testing.T) {
	assert.Equal(t, "unset", PageStatusUnset.String())
	assert.Equal(t, "cached", PageStatusCached.String())
	assert.Equal(t, "failed", PageStatusFailed.String())
}

func TestPageStatus_IsValid(t *testing.T) {
	tests := []struct {
		status PageStatus
		valid  bool
	}{
		{PageStatusCached, true},
		{PageStatusUnchanged, true},
		{PageStatusSkipped, true},
		{PageStatusFailed, true},
		{PageStatusUnset, false},
		{PageStatusNotFound, false},
		{PageStatusDBError, false},
		{PageStatus("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.status.IsValid(); got != tt.valid {
			t.Errorf("PageStatus(%q).IsValid() = %v, want %v", tt.status, got, tt.valid)
		}
	}
}

func TestAssetStatus_IsValid(t *testing.T) {
	assert.True(t, AssetStatusDownloaded.IsValid())
	assert.True(t, AssetStatusUnchanged.IsValid())
	assert.True(t, AssetStatusSkipped.IsValid())
	assert.True(t, AssetStatusFailed.IsValid())
	assert.False(t, AssetStatusNotFound.IsValid())
	assert.False(t, AssetStatusDBError.IsValid())
	assert.Equal(t, "unset", AssetStatusUnset.String())
}

// The ledger stores entries as JSON, so the status must survive as its string form
func TestPageDBEntry_StatusEncoding(t *testing.T) {
	entry := PageDBEntry{Status: PageStatusCached, Depth: 2, LastAttempt: time.Unix(100, 0).UTC()}
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"cached"`)
	assert.NotContains(t, string(data), "error_type")
}
