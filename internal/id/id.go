package id

import (
	"strings"
	"sync/atomic"
)

// Sequence hands out identifiers of the form "<prefix>-<base36 counter>".
// The zero value is ready to use and safe for concurrent use.
type Sequence struct {
	n atomic.Int64
}

// Next returns the next identifier for the given prefix.
// An empty prefix yields a bare base36 counter.
func (s *Sequence) Next(prefix string) string {
	n := s.n.Add(1)
	if prefix == "" {
		return Base36(n)
	}
	return prefix + "-" + Base36(n)
}

// Count returns how many identifiers have been issued.
func (s *Sequence) Count() int64 {
	return s.n.Load()
}

// Base36 encodes a non-negative number using digits and lowercase letters.
func Base36(n int64) string {
	const charset = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n <= 0 {
		return "0"
	}

	var result []byte
	for n > 0 {
		result = append(result, charset[n%36])
		n /= 36
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return string(result)
}

// Prefix returns the prefix portion of an identifier issued by a Sequence.
func Prefix(id string) string {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return ""
	}
	return id[:i]
}
