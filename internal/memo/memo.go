package memo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// Prefix tags every AP1 protocol memo; it versions the whole wire scheme.
const Prefix = "AP1"

// ProgramID is the on-ledger memo program every protocol memo is addressed to.
const ProgramID = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"

const (
	hashLength        = 64
	addressByteLength = 32
	fieldSeparator    = "|"
)

var (
	// ErrInvalidHash indicates a record hash that is not 64 lowercase hex characters.
	ErrInvalidHash = errors.New("memo: invalid record hash")
	// ErrInvalidAddress indicates a string that does not decode to a 32-byte ledger address.
	ErrInvalidAddress = errors.New("memo: invalid address")
)

// Action discriminates the protocol message variants.
type Action string

const (
	// ActionRecord anchors a record hash on the ledger.
	ActionRecord Action = "RECORD"
	// ActionGrant grants a doctor time-boxed read access to a record.
	ActionGrant Action = "GRANT"
	// ActionRevoke withdraws a previously granted consent.
	ActionRevoke Action = "REVOKE"
)

// Hash is a validated record content hash: 64 lowercase hex characters.
type Hash string

// NewHash validates raw input and returns a Hash.
func NewHash(raw string) (Hash, error) {
	if len(raw) != hashLength {
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidHash, hashLength, len(raw))
	}
	for _, c := range raw {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: non-hex character %q", ErrInvalidHash, c)
		}
	}
	return Hash(raw), nil
}

// String returns the underlying hex string.
func (h Hash) String() string {
	return string(h)
}

// Address is a validated ledger address: base58 text decoding to 32 bytes.
type Address string

// NewAddress validates raw input and returns an Address.
func NewAddress(raw string) (Address, error) {
	decoded, err := base58.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != addressByteLength {
		return "", fmt.Errorf("%w: decodes to %d bytes", ErrInvalidAddress, len(decoded))
	}
	return Address(raw), nil
}

// String returns the underlying base58 string.
func (a Address) String() string {
	return string(a)
}

// Memo is the tagged union of protocol messages. Values are produced only
// by the validating parser or by constructing a variant with validated fields.
type Memo interface {
	Action() Action
	Encode() string
}

// RecordMemo anchors a record hash.
type RecordMemo struct {
	RecordHash Hash
}

// Action identifies the variant.
func (RecordMemo) Action() Action {
	return ActionRecord
}

// Encode renders the single-line wire form.
func (m RecordMemo) Encode() string {
	return strings.Join([]string{Prefix, string(ActionRecord), m.RecordHash.String()}, fieldSeparator)
}

// GrantMemo grants read access to a doctor until ExpiryUnix.
type GrantMemo struct {
	RecordHash Hash
	Doctor     Address
	ExpiryUnix int64
}

// Action identifies the variant.
func (GrantMemo) Action() Action {
	return ActionGrant
}

// Encode renders the single-line wire form.
func (m GrantMemo) Encode() string {
	return strings.Join([]string{
		Prefix,
		string(ActionGrant),
		m.RecordHash.String(),
		m.Doctor.String(),
		strconv.FormatInt(m.ExpiryUnix, 10),
	}, fieldSeparator)
}

// RevokeMemo withdraws a doctor's access to a record.
type RevokeMemo struct {
	RecordHash Hash
	Doctor     Address
}

// Action identifies the variant.
func (RevokeMemo) Action() Action {
	return ActionRevoke
}

// Encode renders the single-line wire form.
func (m RevokeMemo) Encode() string {
	return strings.Join([]string{Prefix, string(ActionRevoke), m.RecordHash.String(), m.Doctor.String()}, fieldSeparator)
}

// Parse decodes an untrusted on-ledger payload into a protocol message.
// It is the sole trust boundary for memo bytes: anything malformed yields
// (nil, false) rather than a partially populated message, and no input
// causes a panic.
func Parse(raw string) (Memo, bool) {
	parts := strings.Split(raw, fieldSeparator)
	if parts[0] != Prefix || len(parts) < 2 {
		return nil, false
	}

	switch Action(parts[1]) {
	case ActionRecord:
		if len(parts) != 3 {
			return nil, false
		}
		hash, err := NewHash(parts[2])
		if err != nil {
			return nil, false
		}
		return RecordMemo{RecordHash: hash}, true

	case ActionGrant:
		if len(parts) != 5 {
			return nil, false
		}
		hash, err := NewHash(parts[2])
		if err != nil {
			return nil, false
		}
		doctor, err := NewAddress(parts[3])
		if err != nil {
			return nil, false
		}
		expiry, err := strconv.ParseInt(parts[4], 10, 64)
		if err != nil || expiry <= 0 {
			return nil, false
		}
		return GrantMemo{RecordHash: hash, Doctor: doctor, ExpiryUnix: expiry}, true

	case ActionRevoke:
		if len(parts) != 4 {
			return nil, false
		}
		hash, err := NewHash(parts[2])
		if err != nil {
			return nil, false
		}
		doctor, err := NewAddress(parts[3])
		if err != nil {
			return nil, false
		}
		return RevokeMemo{RecordHash: hash, Doctor: doctor}, true
	}

	return nil, false
}
