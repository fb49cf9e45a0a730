package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
)

const (
	// MaxTransactionSize is the largest serialized transaction a validator
	// will accept in a single packet.
	MaxTransactionSize = 1232
)

type Signature [ed25519.SignatureSize]byte
type Blockhash [sha256.Size]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

func (b Blockhash) String() string {
	return base58.Encode(b[:])
}

type Header struct {
	NumSignatures     byte
	NumReadonlySigned byte
	NumReadOnly       byte
}

// Message is a legacy transaction message.
type Message struct {
	Header          Header
	Accounts        []ed25519.PublicKey
	RecentBlockhash Blockhash
	Instructions    []CompiledInstruction
}

type Transaction struct {
	Signatures []Signature
	Message    Message
}

// NewLegacyTransaction compiles instructions into an unsigned legacy
// transaction paid for by payer.
func NewLegacyTransaction(payer ed25519.PublicKey, instructions ...Instruction) Transaction {
	metas := []AccountMeta{
		{
			PublicKey:  payer,
			IsSigner:   true,
			IsWritable: true,
			isPayer:    true,
		},
	}
	for _, ixn := range instructions {
		metas = append(metas, AccountMeta{PublicKey: ixn.Program, isProgram: true})
		metas = append(metas, ixn.Accounts...)
	}

	metas = mergeAccountMetas(metas)
	sort.Sort(accountOrder(metas))

	var m Message
	for _, meta := range metas {
		key := meta.PublicKey
		if len(key) == 0 {
			key = make(ed25519.PublicKey, ed25519.PublicKeySize)
		}
		m.Accounts = append(m.Accounts, key)

		switch {
		case meta.IsSigner:
			m.Header.NumSignatures++
			if !meta.IsWritable {
				m.Header.NumReadonlySigned++
			}
		case !meta.IsWritable:
			m.Header.NumReadOnly++
		}
	}

	for _, ixn := range instructions {
		compiled := CompiledInstruction{
			ProgramIndex: byte(indexOf(m.Accounts, ixn.Program)),
			Data:         ixn.Data,
		}
		for _, a := range ixn.Accounts {
			compiled.Accounts = append(compiled.Accounts, byte(indexOf(m.Accounts, a.PublicKey)))
		}
		m.Instructions = append(m.Instructions, compiled)
	}

	return Transaction{
		Signatures: make([]Signature, m.Header.NumSignatures),
		Message:    m,
	}
}

// Signature returns the fee payer's signature, which identifies the
// transaction on chain.
func (t *Transaction) Signature() Signature {
	if len(t.Signatures) == 0 {
		return Signature{}
	}
	return t.Signatures[0]
}

// Signers returns the accounts whose signatures the message requires, fee
// payer first.
func (t *Transaction) Signers() []ed25519.PublicKey {
	return t.Message.Accounts[:t.Message.Header.NumSignatures]
}

func (t *Transaction) SetBlockhash(bh Blockhash) {
	t.Message.RecentBlockhash = bh
}

// Sign signs the message with each of the provided keys. The order of signers
// does not matter; each signature is placed at its account's index.
func (t *Transaction) Sign(signers ...ed25519.PrivateKey) error {
	message := t.Message.Marshal()

	for _, s := range signers {
		pub := s.Public().(ed25519.PublicKey)
		index := indexOf(t.Message.Accounts, pub)
		if index < 0 {
			return errors.Errorf("signing account %s is not in the account list", base58.Encode(pub))
		}
		if index >= len(t.Signatures) {
			return errors.Errorf("signing account %s is not in the list of signers", base58.Encode(pub))
		}

		copy(t.Signatures[index][:], ed25519.Sign(s, message))
	}

	return nil
}

// IsSigned reports whether every required signature slot has been filled.
func (t *Transaction) IsSigned() bool {
	var zero Signature
	for _, s := range t.Signatures {
		if s == zero {
			return false
		}
	}
	return len(t.Signatures) > 0
}

func (t *Transaction) String() string {
	var sb strings.Builder
	sb.WriteString("Signatures:\n")
	for i, s := range t.Signatures {
		fmt.Fprintf(&sb, "  %d: %s\n", i, s)
	}
	sb.WriteString("Message:\n")
	sb.WriteString("  Header:\n")
	fmt.Fprintf(&sb, "    NumSignatures: %d\n", t.Message.Header.NumSignatures)
	fmt.Fprintf(&sb, "    NumReadOnly: %d\n", t.Message.Header.NumReadOnly)
	fmt.Fprintf(&sb, "    NumReadOnlySigned: %d\n", t.Message.Header.NumReadonlySigned)
	sb.WriteString("  Accounts:\n")
	for i, a := range t.Message.Accounts {
		fmt.Fprintf(&sb, "    %d: %s\n", i, base58.Encode(a))
	}
	fmt.Fprintf(&sb, "  RecentBlockhash: %s\n", t.Message.RecentBlockhash)
	sb.WriteString("  Instructions:\n")
	for i, ixn := range t.Message.Instructions {
		fmt.Fprintf(&sb, "    %d:\n", i)
		fmt.Fprintf(&sb, "      ProgramIndex: %d\n", ixn.ProgramIndex)
		fmt.Fprintf(&sb, "      Accounts: %v\n", ixn.Accounts)
		fmt.Fprintf(&sb, "      Data: %v\n", ixn.Data)
	}
	return sb.String()
}

// mergeAccountMetas collapses duplicate keys into a single meta holding the
// union of their permissions. First occurrence order is preserved.
func mergeAccountMetas(metas []AccountMeta) []AccountMeta {
	merged := make([]AccountMeta, 0, len(metas))

outer:
	for _, meta := range metas {
		for j := range merged {
			if !bytes.Equal(merged[j].PublicKey, meta.PublicKey) {
				continue
			}

			merged[j].IsSigner = merged[j].IsSigner || meta.IsSigner
			merged[j].IsWritable = merged[j].IsWritable || meta.IsWritable
			merged[j].isPayer = merged[j].isPayer || meta.isPayer
			continue outer
		}

		merged = append(merged, meta)
	}

	return merged
}

func indexOf(slice []ed25519.PublicKey, item ed25519.PublicKey) int {
	if len(item) == 0 {
		item = make(ed25519.PublicKey, ed25519.PublicKeySize)
	}
	for i, val := range slice {
		if bytes.Equal(val, item) {
			return i
		}
	}

	return -1
}
