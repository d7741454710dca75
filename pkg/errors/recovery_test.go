package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover(t *testing.T) {
	t.Run("panic becomes PanicError", func(t *testing.T) {
		run := func() (err error) {
			defer Recover(&err, "Forest.Train")
			panic("node index out of range")
		}

		err := run()
		require.Error(t, err)

		var panicErr *PanicError
		require.True(t, As(err, &panicErr))
		assert.Equal(t, "Forest.Train", panicErr.Operation)
		assert.Equal(t, "node index out of range", panicErr.PanicValue)
		assert.NotEmpty(t, panicErr.StackTrace)
		assert.Equal(t, "rgf: panic in Forest.Train: node index out of range", panicErr.Error())
		assert.Contains(t, panicErr.String(), "Stack trace:")
	})

	t.Run("no panic leaves error untouched", func(t *testing.T) {
		run := func() (err error) {
			defer Recover(&err, "Forest.Train")
			return nil
		}
		assert.NoError(t, run())
	})

	t.Run("existing error is wrapped", func(t *testing.T) {
		orig := fmt.Errorf("bad target")
		run := func() (err error) {
			defer Recover(&err, "Forest.Train")
			err = orig
			panic("boom")
		}

		err := run()
		require.Error(t, err)
		assert.True(t, Is(err, orig))
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestSafeExecute(t *testing.T) {
	tests := []struct {
		name      string
		fn        func() error
		wantPanic bool
		wantErr   bool
	}{
		{name: "success", fn: func() error { return nil }},
		{name: "plain error", fn: func() error { return ErrEmptyData }, wantErr: true},
		{name: "nil map write", fn: func() error {
			var m map[string]int
			m["x"] = 1
			return nil
		}, wantPanic: true, wantErr: true},
		{name: "index out of range", fn: func() error {
			s := []int{1}
			idx := 3
			_ = s[idx]
			return nil
		}, wantPanic: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafeExecute("op", tt.fn)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var panicErr *PanicError
			assert.Equal(t, tt.wantPanic, As(err, &panicErr))
		})
	}
}
