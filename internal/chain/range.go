package chain

import "fmt"

// eachWindow walks [from, to] in ascending inclusive windows of at most size
// blocks, invoking fn once per window. Providers cap blocks-per-call on log
// queries; visiting windows in order keeps concatenated results in the same
// order a single unchunked query would produce.
func eachWindow(from, to, size uint64, fn func(from, to uint64) error) error {
	if size == 0 {
		return fmt.Errorf("window size must be greater than zero")
	}
	if to < from {
		return fmt.Errorf("inverted block range [%d, %d]", from, to)
	}

	for lo := from; ; {
		hi := to
		if to-lo >= size {
			hi = lo + size - 1
		}
		if err := fn(lo, hi); err != nil {
			return err
		}
		if hi == to {
			return nil
		}
		lo = hi + 1
	}
}
