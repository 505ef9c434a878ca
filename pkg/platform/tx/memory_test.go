package tx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "passculture/pkg/domain-errors"
)

func TestInMemoryRunInTx(t *testing.T) {
	t.Run("commit keeps mutations", func(t *testing.T) {
		runner := NewInMemory(0)
		value := 0
		err := runner.RunInTx(context.Background(), func(txCtx context.Context) error {
			prev := value
			value = 1
			OnRollback(txCtx, func() { value = prev })
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, value)
	})

	t.Run("failure replays undo journal in reverse order", func(t *testing.T) {
		runner := NewInMemory(0)
		var order []int
		boom := errors.New("boom")
		err := runner.RunInTx(context.Background(), func(txCtx context.Context) error {
			OnRollback(txCtx, func() { order = append(order, 1) })
			OnRollback(txCtx, func() { order = append(order, 2) })
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, []int{2, 1}, order)
	})

	t.Run("nested call joins outer unit of work", func(t *testing.T) {
		runner := NewInMemory(0)
		undone := false
		err := runner.RunInTx(context.Background(), func(txCtx context.Context) error {
			assert.True(t, InTx(txCtx))
			require.NoError(t, runner.RunInTx(txCtx, func(inner context.Context) error {
				OnRollback(inner, func() { undone = true })
				return nil
			}))
			return errors.New("outer fails")
		})
		require.Error(t, err)
		assert.True(t, undone)
	})

	t.Run("cancelled context is rejected with timeout code", func(t *testing.T) {
		runner := NewInMemory(0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := runner.RunInTx(ctx, func(context.Context) error {
			t.Fatal("fn must not run")
			return nil
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	})

	t.Run("default deadline is applied", func(t *testing.T) {
		runner := NewInMemory(50 * time.Millisecond)
		err := runner.RunInTx(context.Background(), func(txCtx context.Context) error {
			_, ok := txCtx.Deadline()
			assert.True(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("units of work are serialized", func(t *testing.T) {
		runner := NewInMemory(0)
		counter := 0
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = runner.RunInTx(context.Background(), func(context.Context) error {
					v := counter
					time.Sleep(time.Microsecond)
					counter = v + 1
					return nil
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, counter)
	})

	t.Run("outside a unit of work OnRollback is discarded", func(t *testing.T) {
		assert.False(t, InTx(context.Background()))
		assert.NotPanics(t, func() { OnRollback(context.Background(), func() {}) })
	})
}
