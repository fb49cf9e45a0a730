package counter

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, []byte{0x00}, EncodeInit())
	assert.Equal(t, []byte{0x01}, EncodeIncrement())

	data := EncodeAdd(5)
	require.Len(t, data, 9)
	assert.EqualValues(t, 0x02, data[0])
	assert.Equal(t, []byte{5, 0, 0, 0, 0, 0, 0, 0}, data[1:])

	data = EncodeAdd(math.MaxUint64)
	require.Len(t, data, 9)
	assert.EqualValues(t, 0x02, data[0])
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, data[1:])
}

func TestParseCommand(t *testing.T) {
	for _, cmd := range []Command{Init(), Increment(), Add(0), Add(7), Add(math.MaxUint64)} {
		parsed, err := ParseCommand(cmd.Marshal())
		require.NoError(t, err)
		assert.Equal(t, cmd, parsed)
	}

	for _, tc := range []struct {
		data     []byte
		expected error
	}{
		{nil, ErrInvalidCommandData},
		{[]byte{0x03}, ErrUnknownOpcode},
		{[]byte{0xff, 1, 2}, ErrUnknownOpcode},
		{[]byte{0x00, 0x00}, ErrInvalidCommandData},
		{[]byte{0x01, 0x01}, ErrInvalidCommandData},
		{[]byte{0x02}, ErrInvalidCommandData},
		{[]byte{0x02, 1, 2, 3, 4, 5, 6, 7}, ErrInvalidCommandData},
		{[]byte{0x02, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ErrInvalidCommandData},
	} {
		_, err := ParseCommand(tc.data)
		assert.True(t, errors.Is(err, tc.expected), "%x: %v", tc.data, err)
	}
}

func TestApply(t *testing.T) {
	assert.EqualValues(t, 0, Init().Apply(41))
	assert.EqualValues(t, 42, Increment().Apply(41))
	assert.EqualValues(t, 46, Add(5).Apply(41))

	assert.EqualValues(t, 0, Increment().Apply(math.MaxUint64))
	assert.EqualValues(t, 1, Add(2).Apply(math.MaxUint64))
}

func TestSimulate(t *testing.T) {
	assert.EqualValues(t, 0, Simulate())
	assert.EqualValues(t, 2, Simulate(Init(), Increment(), Increment()))
	assert.EqualValues(t, 12, Simulate(Init(), Add(5), Add(7)))
	assert.EqualValues(t, 1, Simulate(Increment(), Increment(), Init(), Increment()))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "init", Init().String())
	assert.Equal(t, "increment", Increment().String())
	assert.Equal(t, "add(5)", Add(5).String())
	assert.Equal(t, "unknown(9)", Opcode(9).String())
}
