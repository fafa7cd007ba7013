package token

import (
	"math/big"
	"sync"
)

// PaymentPort is the capability the marketplace ledger consumes to move the
// payment token. Transfer pushes from the custody balance the port is bound
// to; TransferFrom pulls from a third party via allowance. Implementations
// report failure with a false result and the ledger treats that identically to
// an error: the enclosing operation aborts in full.
type PaymentPort interface {
	Transfer(to [20]byte, amount *big.Int) bool
	TransferFrom(from, to [20]byte, amount *big.Int) bool
}

// Token is the reference payment-token implementation: an in-process fungible
// balance book with ERC20-style allowances, bound to a custody operator (the
// marketplace vault). It exists so the daemon and tests have a concrete port;
// production deployments substitute their own PaymentPort.
type Token struct {
	mu         sync.Mutex
	operator   [20]byte
	balances   map[[20]byte]*big.Int
	allowances map[[20]byte]*big.Int
}

// NewToken constructs a token book whose push transfers draw from the supplied
// operator (custody) address.
func NewToken(operator [20]byte) *Token {
	return &Token{
		operator:   operator,
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]*big.Int),
	}
}

// Operator returns the custody address the token is bound to.
func (t *Token) Operator() [20]byte {
	return t.operator
}

// Mint credits freshly issued units to addr. Test and genesis helper.
func (t *Token) Mint(addr [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(addr, amount)
}

// Approve grants the operator permission to pull up to amount from owner.
// The allowance replaces any previous grant.
func (t *Token) Approve(owner [20]byte, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if amount == nil || amount.Sign() <= 0 {
		delete(t.allowances, owner)
		return
	}
	t.allowances[owner] = new(big.Int).Set(amount)
}

// Allowance reports how much the operator may still pull from owner.
func (t *Token) Allowance(owner [20]byte) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.allowances[owner]; ok {
		return new(big.Int).Set(a)
	}
	return big.NewInt(0)
}

// BalanceOf returns the current balance of addr.
func (t *Token) BalanceOf(addr [20]byte) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

// Transfer moves amount from the operator's custody balance to the recipient.
func (t *Token) Transfer(to [20]byte, amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.debit(t.operator, amount) {
		return false
	}
	t.credit(to, amount)
	return true
}

// TransferFrom pulls amount from the sender using the operator's allowance and
// credits the recipient. Pulls initiated by the operator against itself need
// no allowance.
func (t *Token) TransferFrom(from, to [20]byte, amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if from != t.operator {
		allowance, ok := t.allowances[from]
		if !ok || allowance.Cmp(amount) < 0 {
			return false
		}
		if t.balances[from] == nil || t.balances[from].Cmp(amount) < 0 {
			return false
		}
		allowance.Sub(allowance, amount)
	}
	if !t.debit(from, amount) {
		return false
	}
	t.credit(to, amount)
	return true
}

func (t *Token) credit(addr [20]byte, amount *big.Int) {
	if b, ok := t.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[addr] = new(big.Int).Set(amount)
}

func (t *Token) debit(addr [20]byte, amount *big.Int) bool {
	b, ok := t.balances[addr]
	if !ok || b.Cmp(amount) < 0 {
		return false
	}
	b.Sub(b, amount)
	return true
}
