package soname

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// TokenWidth is the encoded length of every token. Shared objects with a
// SONAME shorter than this cannot be patched.
const TokenWidth = 4

const maxToken = 9999

var ErrTokensExhausted = errors.New("soname: replacement tokens exhausted")

// Counter hands out fixed-width numeric tokens in increasing order. The zero
// value is ready to use and first yields "0001".
type Counter struct {
	last atomic.Uint32
}

// Next returns the next unused token.
func (c *Counter) Next() (string, error) {
	n := c.last.Add(1)
	if n > maxToken {
		return "", ErrTokensExhausted
	}
	return fmt.Sprintf("%0*d", TokenWidth, n), nil
}

var processTokens Counter

// NextToken returns a token that is unique for the lifetime of the process.
func NextToken() (string, error) {
	return processTokens.Next()
}

// ResetTokens rewinds the process counter. Only tests may call it; reusing a
// token while an earlier copy is still loaded aliases the two in the linker.
func ResetTokens() {
	processTokens.last.Store(0)
}

// Tokens returns the process-wide counter.
func Tokens() *Counter {
	return &processTokens
}
