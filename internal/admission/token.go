package admission

import "time"

// Token is a single-use permission to open one new gateway session. A token
// is pending until its validAt instant has passed; readiness is evaluated
// lazily when a caller tries to consume it, never polled.
type Token struct {
	validAt time.Time
}

// newToken mints a token that becomes usable after the given delay.
func newToken(delay time.Duration) Token {
	return Token{validAt: time.Now().Add(delay)}
}

// ValidAt returns the instant the token becomes usable. The zero token is
// already valid, which is how the pool seeds its first admission.
func (t Token) ValidAt() time.Time {
	return t.validAt
}

// Ready reports whether the token is usable right now.
func (t Token) Ready() bool {
	return !time.Now().Before(t.validAt)
}

// Delay returns how long until the token becomes usable. Zero or negative
// means the token is ready.
func (t Token) Delay() time.Duration {
	return time.Until(t.validAt)
}
