package challenge

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ErrNoSolution is returned when the search ended without reaching the
// minimum difficulty.
var ErrNoSolution = errors.New("no solution meets the minimum difficulty")

// checkInterval is how many nonces a worker tries between cancellation checks.
const checkInterval = 1024

// SolveOptions tunes a search.
type SolveOptions struct {
	// Threads is the number of search goroutines. Values below one mean one.
	Threads int
	// MinDifficulty is the lowest difficulty worth returning.
	MinDifficulty uint64
	// TargetDifficulty stops the search early once reached. Zero searches
	// until the context is done.
	TargetDifficulty uint64
	// StartNonce offsets the nonce space so restarts do not repeat work.
	StartNonce uint64
}

// Result is the best solution a search found.
type Result struct {
	Solution   Solution
	Hash       chainhash.Hash
	Difficulty uint64
	Attempts   uint64
}

// Solve searches the nonce space of challenge across opts.Threads goroutines
// and returns the highest-difficulty solution found. The search ends when the
// target difficulty is reached or ctx is done, whichever comes first.
//
// Parameters:
//   - ctx: Bounds the search; required when TargetDifficulty is zero
//   - challenge: The proof's current challenge
//   - opts: Thread count and difficulty thresholds
//
// Returns:
//   - Result: The best solution and the total number of attempts
//   - error: ErrNoSolution when the best found is below MinDifficulty
func Solve(ctx context.Context, challenge chainhash.Hash, opts SolveOptions) (Result, error) {
	threads := max(opts.Threads, 1)
	stride := math.MaxUint64 / uint64(threads)

	var (
		wg       sync.WaitGroup
		done     atomic.Bool
		attempts atomic.Uint64
		results  = make([]Result, threads)
	)

	for i := range threads {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			results[worker] = search(ctx, challenge, opts.StartNonce+uint64(worker)*stride, opts.TargetDifficulty, &done, &attempts)
		}(i)
	}
	wg.Wait()

	best := results[0]
	for _, r := range results[1:] {
		if r.Difficulty > best.Difficulty {
			best = r
		}
	}
	best.Attempts = attempts.Load()

	if best.Difficulty < opts.MinDifficulty || best.Attempts == 0 {
		return best, ErrNoSolution
	}
	return best, nil
}

func search(ctx context.Context, challenge chainhash.Hash, nonce, target uint64, done *atomic.Bool, attempts *atomic.Uint64) Result {
	var best Result
	var local uint64

	for !done.Load() {
		for range checkInterval {
			s := NewSolution(challenge, nonce)
			h := s.Hash()
			d := Difficulty(h)
			local++
			nonce++

			if local == 1 || d > best.Difficulty {
				best = Result{Solution: s, Hash: h, Difficulty: d}
			}
			if target > 0 && d >= target {
				done.Store(true)
				break
			}
		}

		select {
		case <-ctx.Done():
			done.Store(true)
		default:
		}
	}

	attempts.Add(local)
	return best
}
