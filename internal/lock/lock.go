// Package lock provides exclusive per-key locks spanning a bid's validation
// read through its ledger write.
//
// Keys are always acquired in sorted order so two callers locking the same
// team and player can never deadlock each other.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrLockHeld is returned when a key could not be acquired before the wait
// deadline.
var ErrLockHeld = errors.New("lock: already held")

// Locker acquires a set of keys exclusively. The returned unlock function
// releases all of them and is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (unlock func(), err error)
}

// TeamKey is the lock key guarding a team's purse and roster.
func TeamKey(teamID string) string { return "team:" + teamID }

// PlayerKey is the lock key guarding a player's sold flag.
func PlayerKey(playerID string) string { return "player:" + playerID }

// normalize sorts and de-duplicates keys.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
