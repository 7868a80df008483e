package util

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// HashedKey returns a deterministic composite key over the sorted members
// with a short hash: prefix + ":" + first 16 hex chars.
func HashedKey(prefix string, members []string) string {
	s := make([]string, len(members))
	copy(s, members)
	sort.Strings(s)
	sum := sha256.Sum256([]byte(strings.Join(s, "\x00")))
	return fmt.Sprintf("%s:%x", prefix, sum)[:len(prefix)+1+16]
}

// SlotKey is the storage key of a slot payload: slot:<ns>:<kind>.
func SlotKey(ns, kind string) string {
	return "slot:" + ns + ":" + kind
}
