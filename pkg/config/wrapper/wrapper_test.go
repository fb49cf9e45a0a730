package wrapper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/counter-client/pkg/config/memory"
)

func TestConfig_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mock := memory.NewConfig(nil)
	c := NewUint64Config(mock, 5)

	// Default when nothing is set
	val, err := c.GetSafe(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, val)

	// Override
	mock.SetValue(uint64(10))
	assert.EqualValues(t, 10, c.Get(ctx))

	// Last observed value while the source is failing
	mock.InduceErrors()
	val, err = c.GetSafe(ctx)
	assert.Error(t, err)
	assert.EqualValues(t, 10, val)

	// Back to the default once the source is cleared
	mock.StopInducingErrors()
	mock.ClearValue()
	assert.EqualValues(t, 5, c.Get(ctx))

	// Unsupported source type
	mock.SetValue("ten")
	val, err = c.GetSafe(ctx)
	assert.Equal(t, ErrUnsupportedConversion, err)
	assert.EqualValues(t, 5, val)

	// Malformed text keeps the last value
	mock.SetValue([]byte("12"))
	assert.EqualValues(t, 12, c.Get(ctx))
	mock.SetValue([]byte("-1"))
	val, err = c.GetSafe(ctx)
	assert.Error(t, err)
	assert.EqualValues(t, 12, val)
}

func TestConfig_NilOverride(t *testing.T) {
	c := NewStringConfig(nil, "fallback")
	assert.Equal(t, "fallback", c.Get(context.Background()))
	c.Shutdown()
}

func TestConfig_TextValues(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		raw      string
		expected time.Duration
		ok       bool
	}{
		{"1500", 1500 * time.Millisecond, true},
		{"30s", 30 * time.Second, true},
		{" 2m ", 2 * time.Minute, true},
		{"-5s", 0, false},
		{"soon", 0, false},
	} {
		d := NewDurationConfig(memory.NewConfig([]byte(tc.raw)), 0)
		val, err := d.GetSafe(ctx)
		if tc.ok {
			require.NoError(t, err, tc.raw)
			assert.Equal(t, tc.expected, val, tc.raw)
		} else {
			assert.Error(t, err, tc.raw)
		}
	}

	b := NewBoolConfig(memory.NewConfig([]byte("true")), false)
	assert.True(t, b.Get(ctx))
	b = NewBoolConfig(memory.NewConfig(false), true)
	assert.False(t, b.Get(ctx))

	f := NewFloat64Config(memory.NewConfig([]byte("2.5")), 0)
	assert.Equal(t, 2.5, f.Get(ctx))
	f = NewFloat64Config(memory.NewConfig(3), 0)
	assert.Equal(t, 3.0, f.Get(ctx))

	s := NewStringConfig(memory.NewConfig([]byte("http://localhost:8899")), "")
	assert.Equal(t, "http://localhost:8899", s.Get(ctx))
}
