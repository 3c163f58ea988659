package admission

import (
	"context"
	"log"
	"time"
)

// Pool is a capacity-1 delayed container of admission tokens, seeded with a
// single pre-expired token so the very first admission does not wait. The
// delay to the next admission starts counting only when a fresh token is
// deposited, not on a fixed clock, so idle periods are absorbed correctly.
//
// Acquire and Deposit are safe for concurrent use without external locking.
// The caller is responsible for pairing every successful Acquire with exactly
// one later deposit.
type Pool struct {
	delay time.Duration
	slot  chan Token
}

// NewPool creates a pool with the given standard delay between admissions.
func NewPool(delay time.Duration) *Pool {
	p := &Pool{
		delay: delay,
		slot:  make(chan Token, 1),
	}
	p.slot <- Token{} // pre-expired seed
	return p
}

// Acquire blocks until a ready token is available, consumes it, and returns
// it. A pending token is never returned early. If ctx is cancelled while the
// token is still pending, the token goes back into the pool untouched:
// cancellation is never observable as a consumption.
func (p *Pool) Acquire(ctx context.Context) (Token, error) {
	var t Token
	select {
	case t = <-p.slot:
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}

	if d := t.Delay(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			// We hold the only token in existence, so the slot is
			// empty and this send cannot block.
			p.slot <- t
			return Token{}, ctx.Err()
		}
	}
	return t, nil
}

// Deposit inserts a token. The pool must currently be empty: a deposit into
// a full pool means an Acquire/Deposit pairing bug that would silently
// desynchronize the rate limit, so it fails loudly instead of recovering.
func (p *Pool) Deposit(t Token) {
	select {
	case p.slot <- t:
	default:
		log.Panicf("admission: deposit into a full token pool (token valid at %s)",
			t.ValidAt().Format(time.RFC3339Nano))
	}
}

// DepositFresh inserts a newly minted standard-delay token, restarting the
// interval from now.
func (p *Pool) DepositFresh() {
	p.Deposit(newToken(p.delay))
}

// Delay returns the standard delay between admissions.
func (p *Pool) Delay() time.Duration {
	return p.delay
}
