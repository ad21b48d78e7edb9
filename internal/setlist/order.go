package setlist

import (
	"errors"
	"fmt"
)

// Sort keys are lowercase base-26 strings ordered lexicographically,
// 'a' being the zero digit. A fresh key is always chosen strictly
// between its neighbors so no other joke's key ever has to move.
// Generated keys never end in 'a'; that guarantees a gap below any
// key we hand out, so KeyBetween only fails on malformed input or
// when keys have grown past maxKeyLen. Both cases renumber.

const (
	keyDigits = 26
	minDigit  = 'a'

	// A key this long means the gap structure has degenerated.
	// Renumber instead of growing forever.
	maxKeyLen = 64
)

// ErrKeySpaceExhausted signals that no key fits between the requested
// neighbors. Callers renumber the list and retry; the condition is
// never surfaced to users.
var ErrKeySpaceExhausted = errors.New("sort key space exhausted between neighbors")

// KeyBetween returns a key strictly between lo and hi. Empty lo means
// "before everything", empty hi means "after everything".
func KeyBetween(lo, hi string) (string, error) {
	if hi != "" && lo >= hi {
		return "", fmt.Errorf("key bounds out of order: %q >= %q", lo, hi)
	}
	key := make([]byte, 0, len(lo)+1)
	bounded := hi != ""
	for i := 0; ; i++ {
		if len(key) > maxKeyLen {
			return "", ErrKeySpaceExhausted
		}
		dl := 0
		if i < len(lo) {
			dl = int(lo[i] - minDigit)
		}
		dh := keyDigits
		if bounded {
			if i >= len(hi) {
				// hi is a prefix of the key built so far, which only
				// happens when hi ends in the zero digit. No key fits.
				return "", ErrKeySpaceExhausted
			}
			dh = int(hi[i] - minDigit)
		}
		if dh-dl >= 2 {
			return string(append(key, byte(minDigit+(dl+dh)/2))), nil
		}
		key = append(key, byte(minDigit+dl))
		if dh-dl == 1 {
			// key now shares lo's digit while hi is one digit above:
			// any extension stays below hi, so only lo bounds us.
			bounded = false
		}
	}
}

// KeyAfter returns a key ordered after every key in refs.
func KeyAfter(refs []JokeRef) (string, error) {
	lo := ""
	if len(refs) > 0 {
		lo = refs[len(refs)-1].SortKey
	}
	return KeyBetween(lo, "")
}

// KeyForInsert places jokeID relative to an existing neighbor.
// Exactly one of afterID/beforeID may be set; neither means append.
func KeyForInsert(refs []JokeRef, afterID, beforeID string) (string, error) {
	switch {
	case afterID != "":
		i := refIndex(refs, afterID)
		if i < 0 {
			return "", fmt.Errorf("unknown anchor joke %q", afterID)
		}
		hi := ""
		if i+1 < len(refs) {
			hi = refs[i+1].SortKey
		}
		return KeyBetween(refs[i].SortKey, hi)
	case beforeID != "":
		i := refIndex(refs, beforeID)
		if i < 0 {
			return "", fmt.Errorf("unknown anchor joke %q", beforeID)
		}
		lo := ""
		if i > 0 {
			lo = refs[i-1].SortKey
		}
		return KeyBetween(lo, refs[i].SortKey)
	}
	return KeyAfter(refs)
}

// KeyForMove computes the key that places jokeID at targetIndex in
// the resulting order. Moving a joke to the position it already holds
// is a no-op and reports changed=false without generating a key.
func KeyForMove(refs []JokeRef, jokeID string, targetIndex int) (key string, changed bool, err error) {
	cur := refIndex(refs, jokeID)
	if cur < 0 {
		return "", false, fmt.Errorf("joke %q not in list", jokeID)
	}
	rest := make([]JokeRef, 0, len(refs)-1)
	rest = append(rest, refs[:cur]...)
	rest = append(rest, refs[cur+1:]...)

	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(rest) {
		targetIndex = len(rest)
	}
	if targetIndex == cur {
		return "", false, nil
	}
	lo := ""
	if targetIndex > 0 {
		lo = rest[targetIndex-1].SortKey
	}
	hi := ""
	if targetIndex < len(rest) {
		hi = rest[targetIndex].SortKey
	}
	key, err = KeyBetween(lo, hi)
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

// KeyForMoveBetween places jokeID between two named neighbors, the
// shape emitted by drag gesture sources. Empty afterID means the list
// head, empty beforeID the tail.
func KeyForMoveBetween(refs []JokeRef, jokeID, afterID, beforeID string) (string, error) {
	lo, hi := "", ""
	if afterID != "" {
		i := refIndex(refs, afterID)
		if i < 0 {
			return "", fmt.Errorf("unknown neighbor joke %q", afterID)
		}
		lo = refs[i].SortKey
	}
	if beforeID != "" {
		i := refIndex(refs, beforeID)
		if i < 0 {
			return "", fmt.Errorf("unknown neighbor joke %q", beforeID)
		}
		hi = refs[i].SortKey
	}
	return KeyBetween(lo, hi)
}

// Renumber assigns fresh, widely spaced keys to the whole list,
// preserving the current order. Used when KeyBetween reports
// exhaustion; the new assignment must travel with the mutation so
// every replica adopts identical keys.
func Renumber(refs []JokeRef) []JokeRef {
	keys := SpacedKeys(len(refs))
	out := make([]JokeRef, len(refs))
	for i, ref := range refs {
		out[i] = JokeRef{JokeID: ref.JokeID, SortKey: keys[i]}
	}
	return out
}

// SpacedKeys returns n evenly spaced keys in ascending order, with
// gaps wide enough (at least a full digit) that many insertions fit
// between any two before another renumber is needed.
func SpacedKeys(n int) []string {
	if n == 0 {
		return nil
	}
	width := 1
	capacity := keyDigits
	for capacity < (n+1)*keyDigits {
		width++
		capacity *= keyDigits
	}
	step := capacity / (n + 1)
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = encodeKey((i+1)*step, width)
	}
	return keys
}

func encodeKey(v, width int) string {
	b := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(minDigit + v%keyDigits)
		v /= keyDigits
	}
	// Keep the no-trailing-zero-digit invariant. Steps are at least a
	// full digit apart, so bumping the last digit cannot collide with
	// the next key.
	if b[width-1] == minDigit {
		b[width-1] = minDigit + 1
	}
	return string(b)
}

func refIndex(refs []JokeRef, jokeID string) int {
	for i, ref := range refs {
		if ref.JokeID == jokeID {
			return i
		}
	}
	return -1
}
