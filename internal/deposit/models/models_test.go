package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "passculture/pkg/domain-errors"
)

func TestParseEligibilityType(t *testing.T) {
	got, err := ParseEligibilityType("AGE18")
	require.NoError(t, err)
	assert.Equal(t, EligibilityAge18, got)

	got, err = ParseEligibilityType("UNDERAGE")
	require.NoError(t, err)
	assert.Equal(t, EligibilityUnderage, got)

	_, err = ParseEligibilityType("age18")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestDepositIsExpired(t *testing.T) {
	expiry := time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &Deposit{ExpirationDate: &expiry}
	assert.False(t, d.IsExpired(expiry.Add(-time.Second)))
	assert.True(t, d.IsExpired(expiry))
	assert.False(t, (&Deposit{}).IsExpired(expiry))
}
