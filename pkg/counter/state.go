package counter

import (
	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/solana/binary"
)

// AccountSize is the size of a counter account's data.
const AccountSize = 8

var ErrMalformedAccountData = errors.New("malformed counter account data")

// Account is the state stored in a counter account.
type Account struct {
	Value uint64
}

func (a Account) Marshal() []byte {
	return EncodeCounter(a.Value)
}

func (a *Account) Unmarshal(data []byte) error {
	v, err := DecodeCounter(data)
	if err != nil {
		return err
	}

	a.Value = v
	return nil
}

// EncodeCounter returns the account data holding v.
func EncodeCounter(v uint64) []byte {
	data := make([]byte, AccountSize)

	var offset int
	binary.PutUint64(data, v, &offset)
	return data
}

// DecodeCounter reads the counter value from account data.
func DecodeCounter(data []byte) (uint64, error) {
	if len(data) != AccountSize {
		return 0, errors.Wrapf(ErrMalformedAccountData, "expected %d bytes, got %d", AccountSize, len(data))
	}

	var v uint64
	var offset int
	binary.GetUint64(data, &v, &offset)
	return v, nil
}

// Process executes instruction data against account data in place, as the
// program does. Data is left untouched on error.
func Process(instruction, data []byte) error {
	cmd, err := ParseCommand(instruction)
	if err != nil {
		return err
	}

	// Init overwrites whatever the account held.
	var current uint64
	if cmd.Opcode != OpcodeInit {
		if current, err = DecodeCounter(data); err != nil {
			return err
		}
	} else if len(data) != AccountSize {
		return errors.Wrapf(ErrMalformedAccountData, "expected %d bytes, got %d", AccountSize, len(data))
	}

	copy(data, EncodeCounter(cmd.Apply(current)))
	return nil
}
