// Package seed parses run seeds and derives independent per-worker
// generators from them.
package seed

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/OneOfOne/xxhash"
)

// ErrSyntax is returned for a line that is not a hex word.
var ErrSyntax = errors.New("invalid seed word")

// Seed is the base seed of a run: one or more 64-bit words.
type Seed []uint64

// Parse reads one hex word per line. Blank lines are skipped, surrounding
// whitespace is trimmed and a 0x prefix is optional.
func Parse(text string) (Seed, error) {
	var s Seed
	sc := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for sc.Scan() {
		line++
		w := strings.TrimSpace(sc.Text())
		if w == "" {
			continue
		}
		v, err := ParseWord(w)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s = append(s, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseWord parses a single hex word with optional 0x prefix.
func ParseWord(w string) (uint64, error) {
	w = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(w), "0x"), "0X")
	v, err := strconv.ParseUint(w, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrSyntax, w)
	}
	return v, nil
}

// String renders one hex word per line, the format Parse reads.
func (s Seed) String() string {
	var b strings.Builder
	for _, w := range s {
		fmt.Fprintf(&b, "%016x\n", w)
	}
	return b.String()
}

// Derive returns a generator private to worker. The same base and worker
// always yield the same stream; different workers get unrelated streams.
// The base is read, never modified.
func Derive(base Seed, worker int) *rand.Rand {
	hi := mix(base, uint64(worker), 0)
	lo := mix(base, uint64(worker), 1)
	return rand.New(rand.NewPCG(hi, lo))
}

func mix(base Seed, worker, lane uint64) uint64 {
	h := xxhash.NewS64(lane)
	var buf [8]byte
	for _, w := range base {
		binary.LittleEndian.PutUint64(buf[:], w)
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], worker)
	h.Write(buf[:])
	return h.Sum64()
}
