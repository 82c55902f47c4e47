package settle

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nairex/nairex/pkg/fixed"
)

// Ledger is an in-memory token ledger implementing Adapter. It reproduces
// the custody semantics the core is written against: accounts must be
// associated with a token before holding it, outbound transfers consume a
// pre-authorized allowance, and frozen accounts cannot move funds.
//
// It backs the devnet node and every test; production deployments replace
// it with a real custody integration behind the same Adapter interface.
type Ledger struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]fixed.Fixed6 // token -> holder -> balance
	allowances map[common.Address]map[common.Address]fixed.Fixed6 // token -> owner -> spendable by adapter
	associated map[common.Address]map[common.Address]bool         // token -> holder -> associated
	frozen     map[common.Address]map[common.Address]bool         // token -> holder -> frozen
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]fixed.Fixed6),
		allowances: make(map[common.Address]map[common.Address]fixed.Fixed6),
		associated: make(map[common.Address]map[common.Address]bool),
		frozen:     make(map[common.Address]map[common.Address]bool),
	}
}

// Associate provisions holder to receive token. Mirrors token-association
// gating: unassociated recipients reject transfers.
func (l *Ledger) Associate(token, holder common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.associated[token] == nil {
		l.associated[token] = make(map[common.Address]bool)
	}
	l.associated[token][holder] = true
}

// Approve authorizes the adapter to move up to amountE6 of owner's token.
// Replaces any prior allowance (ERC20 approve semantics).
func (l *Ledger) Approve(token, owner common.Address, amountE6 fixed.Fixed6) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[token] == nil {
		l.allowances[token] = make(map[common.Address]fixed.Fixed6)
	}
	l.allowances[token][owner] = amountE6
}

// Mint credits newly issued token to an associated holder.
func (l *Ledger) Mint(token, to common.Address, amountE6 fixed.Fixed6) error {
	if amountE6 <= 0 {
		return fmt.Errorf("mint amount must be positive: %d", amountE6)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.associated[token][to] {
		return &TransferError{Kind: NotAssociated, Token: token, To: to, Amount: amountE6}
	}
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]fixed.Fixed6)
	}
	next, err := fixed.Add(l.balances[token][to], amountE6)
	if err != nil {
		return err
	}
	l.balances[token][to] = next
	return nil
}

// SetFrozen freezes or unfreezes holder for token.
func (l *Ledger) SetFrozen(token, holder common.Address, isFrozen bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen[token] == nil {
		l.frozen[token] = make(map[common.Address]bool)
	}
	l.frozen[token][holder] = isFrozen
}

func (l *Ledger) BalanceOf(token, holder common.Address) fixed.Fixed6 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[token][holder]
}

func (l *Ledger) Allowance(token, owner common.Address) fixed.Fixed6 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[token][owner]
}

// Move transfers amountE6 of token from one account to another, consuming
// the sender's allowance. The checks run in the order a custody layer would
// apply them; nothing is debited unless every check passes.
func (l *Ledger) Move(token, from, to common.Address, amountE6 fixed.Fixed6) error {
	if amountE6 <= 0 {
		return fmt.Errorf("move amount must be positive: %d", amountE6)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fail := func(kind ErrorKind) error {
		return &TransferError{Kind: kind, Token: token, From: from, To: to, Amount: amountE6}
	}

	if l.frozen[token][from] || l.frozen[token][to] {
		return fail(Frozen)
	}
	if !l.associated[token][from] || !l.associated[token][to] {
		return fail(NotAssociated)
	}
	if l.balances[token][from] < amountE6 {
		return fail(InsufficientBalance)
	}
	if l.allowances[token][from] < amountE6 {
		return fail(InsufficientAllowance)
	}

	l.allowances[token][from] -= amountE6
	l.balances[token][from] -= amountE6
	next, err := fixed.Add(l.balances[token][to], amountE6)
	if err != nil {
		// restore; the transfer is all-or-nothing
		l.allowances[token][from] += amountE6
		l.balances[token][from] += amountE6
		return err
	}
	l.balances[token][to] = next
	return nil
}

// MoveBatch applies every move or none. Checks and debits run under one
// lock acquisition with an undo log, so a refusal on the Nth move restores
// the ledger exactly as it was before the first.
func (l *Ledger) MoveBatch(moves []Move) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	type delta struct {
		token, holder common.Address
		balance       fixed.Fixed6
		allowance     fixed.Fixed6
	}
	var undo []delta
	revert := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			d := undo[i]
			l.balances[d.token][d.holder] -= d.balance
			if d.allowance != 0 {
				l.allowances[d.token][d.holder] -= d.allowance
			}
		}
	}

	for _, m := range moves {
		if m.AmountE6 <= 0 {
			revert()
			return fmt.Errorf("move amount must be positive: %d", m.AmountE6)
		}
		fail := func(kind ErrorKind) error {
			revert()
			return &TransferError{Kind: kind, Token: m.Token, From: m.From, To: m.To, Amount: m.AmountE6}
		}
		if l.frozen[m.Token][m.From] || l.frozen[m.Token][m.To] {
			return fail(Frozen)
		}
		if !l.associated[m.Token][m.From] || !l.associated[m.Token][m.To] {
			return fail(NotAssociated)
		}
		if l.balances[m.Token][m.From] < m.AmountE6 {
			return fail(InsufficientBalance)
		}
		if l.allowances[m.Token][m.From] < m.AmountE6 {
			return fail(InsufficientAllowance)
		}

		l.allowances[m.Token][m.From] -= m.AmountE6
		l.balances[m.Token][m.From] -= m.AmountE6
		undo = append(undo, delta{token: m.Token, holder: m.From, balance: -m.AmountE6, allowance: -m.AmountE6})

		next, err := fixed.Add(l.balances[m.Token][m.To], m.AmountE6)
		if err != nil {
			revert()
			return err
		}
		l.balances[m.Token][m.To] = next
		undo = append(undo, delta{token: m.Token, holder: m.To, balance: m.AmountE6})
	}
	return nil
}

var _ Adapter = (*Ledger)(nil)
