package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "passculture/pkg/domain-errors"
)

var allStatuses = []ImportStatus{StatusCreated, StatusDuplicate, StatusRejected, StatusRetry}

func TestCheckTransition(t *testing.T) {
	allowed := map[ImportStatus]map[ImportStatus]bool{
		StatusCreated:   {},
		StatusDuplicate: {StatusRejected: true, StatusRetry: true},
		StatusRejected:  {StatusCreated: true, StatusDuplicate: true, StatusRejected: true, StatusRetry: true},
		StatusRetry:     {StatusCreated: true, StatusDuplicate: true, StatusRejected: true, StatusRetry: true},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				err := CheckTransition(from, to)
				if allowed[from][to] {
					assert.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidStatusTransition))
				assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
			})
		}
	}

	t.Run("unknown status", func(t *testing.T) {
		err := CheckTransition("PENDING", StatusRetry)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestCurrentUsesSequenceNotTimestamp(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	imp := &BeneficiaryImport{History: []StatusEntry{
		{Seq: 7, Status: StatusRetry, At: at},
		{Seq: 3, Status: StatusDuplicate, At: at},
		{Seq: 9, Status: StatusRejected, At: at},
	}}

	got, ok := imp.CurrentStatus()
	require.True(t, ok)
	assert.Equal(t, StatusRejected, got)

	_, ok = (&BeneficiaryImport{}).CurrentStatus()
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	for _, st := range allStatuses {
		got, err := ParseImportStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseImportStatus("created")
	assert.Error(t, err)

	src, err := ParseSource("dms")
	require.NoError(t, err)
	assert.Equal(t, SourceDMS, src)
	_, err = ParseSource("ubble")
	assert.Error(t, err)
}
