package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// InputHash fingerprints one explanation request: the observed feature values and the score they produced.
type InputHash Hash

func (h InputHash) String() string { return Hash(h).String() }

// ComputeInputHash hashes values in key order, so map iteration order never changes the result.
func ComputeInputHash(values map[string]float64, score float64) InputHash {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, key := range keys {
		data.WriteString(key)
		data.WriteByte('=')
		data.WriteString(strconv.FormatFloat(values[key], 'g', -1, 64))
		data.WriteByte(';')
	}
	data.WriteString("score=")
	data.WriteString(strconv.FormatFloat(score, 'g', -1, 64))

	return InputHash(NewHash([]byte(data.String())))
}
