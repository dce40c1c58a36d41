// Package token is an in-memory multi-token ledger with ERC-20 style
// balances, allowances and supply.
package token

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Metadata describes a registered token.
type Metadata struct {
	Address  domain.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int32          `json:"decimals"`
}

// TransferHook runs before a holder-to-holder transfer moves balances. An
// error aborts the transfer.
type TransferHook func(token, from, to domain.Address, amount *big.Int) error

type ledger struct {
	meta       Metadata
	supply     *big.Int
	balances   map[domain.Address]*big.Int
	allowances map[domain.Address]map[domain.Address]*big.Int
}

func (l *ledger) clone() *ledger {
	c := &ledger{
		meta:       l.meta,
		supply:     new(big.Int).Set(l.supply),
		balances:   make(map[domain.Address]*big.Int, len(l.balances)),
		allowances: make(map[domain.Address]map[domain.Address]*big.Int, len(l.allowances)),
	}
	for k, v := range l.balances {
		c.balances[k] = new(big.Int).Set(v)
	}
	for owner, m := range l.allowances {
		cm := make(map[domain.Address]*big.Int, len(m))
		for spender, v := range m {
			cm[spender] = new(big.Int).Set(v)
		}
		c.allowances[owner] = cm
	}
	return c
}

// Bank holds every token ledger.
type Bank struct {
	mu     sync.RWMutex
	tokens map[domain.Address]*ledger
	hooks  map[domain.Address]TransferHook
}

// NewBank returns an empty bank.
func NewBank() *Bank {
	return &Bank{
		tokens: make(map[domain.Address]*ledger),
		hooks:  make(map[domain.Address]TransferHook),
	}
}

// Register adds a token with zero supply.
func (b *Bank) Register(meta Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tokens[meta.Address]; ok {
		return fmt.Errorf("token: register %s: %w", meta.Symbol, domain.ErrAlreadyExists)
	}
	b.tokens[meta.Address] = &ledger{
		meta:       meta,
		supply:     new(big.Int),
		balances:   make(map[domain.Address]*big.Int),
		allowances: make(map[domain.Address]map[domain.Address]*big.Int),
	}
	return nil
}

// Exists reports whether token is registered.
func (b *Bank) Exists(token domain.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.tokens[token]
	return ok
}

// Metadata returns a token's metadata.
func (b *Bank) Metadata(token domain.Address) (Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.tokens[token]
	if !ok {
		return Metadata{}, fmt.Errorf("token: %s: %w", token.Hex(), domain.ErrNotFound)
	}
	return l.meta, nil
}

// Tokens lists registered tokens ordered by symbol.
func (b *Bank) Tokens() []Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Metadata, 0, len(b.tokens))
	for _, l := range b.tokens {
		out = append(out, l.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SetTransferHook installs the hook for token, replacing any previous one.
func (b *Bank) SetTransferHook(token domain.Address, hook TransferHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hook == nil {
		delete(b.hooks, token)
		return
	}
	b.hooks[token] = hook
}

// BalanceOf returns owner's balance; unknown tokens report zero.
func (b *Bank) BalanceOf(token, owner domain.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return domain.CloneInt(l.balances[owner])
}

// TotalSupply returns token's supply.
func (b *Bank) TotalSupply(token domain.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(l.supply)
}

// Holders lists accounts with a non-zero balance of token.
func (b *Bank) Holders(token domain.Address) []domain.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.tokens[token]
	if !ok {
		return nil
	}
	out := make([]domain.Address, 0, len(l.balances))
	for a, v := range l.balances {
		if v.Sign() > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Allowance returns what spender may still move from owner.
func (b *Bank) Allowance(token, owner, spender domain.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return domain.CloneInt(l.allowances[owner][spender])
}

// Approve sets spender's allowance over owner's balance.
func (b *Bank) Approve(token, owner, spender domain.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: approve: %w", domain.ErrInvalidParams)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.ledgerLocked(token)
	if err != nil {
		return err
	}
	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[domain.Address]*big.Int)
		l.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves amount from one holder to another.
func (b *Bank) Transfer(token, from, to domain.Address, amount *big.Int) error {
	if err := b.runHook(token, from, to, amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.ledgerLocked(token)
	if err != nil {
		return err
	}
	return l.move(from, to, amount)
}

// TransferFrom moves amount on behalf of from, spending spender's allowance.
// A holder moving its own balance needs no allowance.
func (b *Bank) TransferFrom(token, spender, from, to domain.Address, amount *big.Int) error {
	if err := b.runHook(token, from, to, amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.ledgerLocked(token)
	if err != nil {
		return err
	}
	if spender != from {
		allowed := domain.CloneInt(l.allowances[from][spender])
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("token: transfer %s from %s: %w", l.meta.Symbol, from.Hex(), domain.ErrInsufficientAllowance)
		}
		if err := l.move(from, to, amount); err != nil {
			return err
		}
		l.allowances[from][spender] = allowed.Sub(allowed, amount)
		return nil
	}
	return l.move(from, to, amount)
}

// Mint creates amount for to.
func (b *Bank) Mint(token, to domain.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: mint: %w", domain.ErrInvalidParams)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.ledgerLocked(token)
	if err != nil {
		return err
	}
	l.credit(to, amount)
	l.supply.Add(l.supply, amount)
	return nil
}

// Burn destroys amount held by from.
func (b *Bank) Burn(token, from domain.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: burn: %w", domain.ErrInvalidParams)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, err := b.ledgerLocked(token)
	if err != nil {
		return err
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.supply.Sub(l.supply, amount)
	return nil
}

func (b *Bank) runHook(token, from, to domain.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: transfer: %w", domain.ErrInvalidParams)
	}
	b.mu.RLock()
	hook := b.hooks[token]
	b.mu.RUnlock()
	if hook == nil || from == to {
		return nil
	}
	return hook(token, from, to, amount)
}

func (b *Bank) ledgerLocked(token domain.Address) (*ledger, error) {
	l, ok := b.tokens[token]
	if !ok {
		return nil, fmt.Errorf("token: unknown token %s: %w", token.Hex(), domain.ErrTransferFailed)
	}
	return l, nil
}

func (l *ledger) move(from, to domain.Address, amount *big.Int) error {
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

func (l *ledger) debit(from domain.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	bal := l.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("token: %s balance of %s: %w", l.meta.Symbol, from.Hex(), domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(l.balances, from)
	}
	return nil
}

func (l *ledger) credit(to domain.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	bal, ok := l.balances[to]
	if !ok {
		l.balances[to] = new(big.Int).Set(amount)
		return
	}
	bal.Add(bal, amount)
}

type bankSnapshot map[domain.Address]*ledger

// Snapshot copies every ledger.
func (b *Bank) Snapshot() any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := make(bankSnapshot, len(b.tokens))
	for k, l := range b.tokens {
		snap[k] = l.clone()
	}
	return snap
}

// Restore replaces every ledger with a snapshot's copy.
func (b *Bank) Restore(snapshot any) {
	snap := snapshot.(bankSnapshot)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = make(map[domain.Address]*ledger, len(snap))
	for k, l := range snap {
		b.tokens[k] = l.clone()
	}
}
