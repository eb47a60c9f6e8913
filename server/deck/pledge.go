package deck

import (
	"errors"
	"fmt"
	"math/rand"
)

var ErrInsufficientCards = errors.New("not enough game cards")

// CanPledge reports whether cards holds at least n playable cards.
func CanPledge(cards []Asset, n int) bool { return n > 0 && len(cards) >= n }

// SelectRandom picks n distinct cards uniformly at random. cards is not
// modified. Callers gate on CanPledge first; fewer than n cards is an error.
func SelectRandom(cards []Asset, n int) ([]Asset, error) {
	if !CanPledge(cards, n) {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCards, len(cards), n)
	}
	pool := make([]Asset, len(cards))
	copy(pool, cards)
	// partial Fisher-Yates: the first n slots end up a uniform sample
	for i := 0; i < n; i++ {
		j := i + rand.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n:n], nil
}
