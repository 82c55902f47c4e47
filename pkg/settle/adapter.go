// Package settle defines the settlement boundary: the single seam through
// which the trading and lending cores move value. The core treats every
// transfer failure uniformly as "abort this operation".
package settle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nairex/nairex/pkg/fixed"
)

// ErrorKind classifies why a transfer was refused by the custody layer.
type ErrorKind int8

const (
	InsufficientBalance ErrorKind = iota
	InsufficientAllowance
	NotAssociated // recipient not provisioned to receive the token
	Frozen
)

func (k ErrorKind) String() string {
	switch k {
	case InsufficientBalance:
		return "insufficient balance"
	case InsufficientAllowance:
		return "insufficient allowance"
	case NotAssociated:
		return "not associated"
	case Frozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// TransferError reports a refused transfer. Callers never branch on the
// kind; it exists for operator diagnostics.
type TransferError struct {
	Kind   ErrorKind
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount fixed.Fixed6
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s of %s from %s to %s: %s",
		e.Amount, e.Token.Hex(), e.From.Hex(), e.To.Hex(), e.Kind)
}

// ErrTransfer lets callers match any TransferError with errors.Is.
var ErrTransfer = errors.New("settle: transfer failed")

func (e *TransferError) Is(target error) bool { return target == ErrTransfer }

// Move is one value transfer inside a settlement batch.
type Move struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	AmountE6 fixed.Fixed6
}

// Adapter is the external capability that moves value between accounts.
// Move applies a single transfer atomically. MoveBatch applies every move
// or none: the matching engine settles a whole matchBest pass as one batch,
// so a failure anywhere leaves no transfer applied.
type Adapter interface {
	Move(token, from, to common.Address, amountE6 fixed.Fixed6) error
	MoveBatch(moves []Move) error
}
