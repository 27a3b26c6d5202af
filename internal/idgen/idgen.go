// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the kinds of ids this service mints.
const (
	JournalPrefix = "jr-"
	RequestPrefix = "rq-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// JournalID returns a new journal entry id.
func JournalID() (string, error) {
	return GenerateWithPrefix(JournalPrefix)
}

// RequestID returns a new id for correlating one HTTP request in logs.
// It never fails; on a random source error it falls back to a fixed id.
func RequestID() string {
	id, err := GenerateWithPrefix(RequestPrefix)
	if err != nil {
		return RequestPrefix + "unknown"
	}
	return id
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
