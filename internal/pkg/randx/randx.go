/*
Package randx generates the opaque identifiers used by the hub.

Connection identifiers are UUID v4 strings prefixed with "conn_"; instance
identifiers tag backplane envelopes so an instance can skip its own echoes.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for short Base62 suffixes.
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the number of characters in Base62Chars.
	Base62Len = int64(len(Base62Chars))

	// ConnectionIDPrefix is the prefix of every connection identifier.
	ConnectionIDPrefix = "conn_"

	// InstanceSuffixLength is the length of the random part of an instance id.
	InstanceSuffixLength = 6
)

// ConnectionID returns a new opaque connection identifier.
func ConnectionID() string {
	return ConnectionIDPrefix + uuid.NewString()
}

// IsValidConnectionID reports whether id was produced by ConnectionID.
func IsValidConnectionID(id string) bool {
	raw, ok := strings.CutPrefix(id, ConnectionIDPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(raw)
	return err == nil
}

// InstanceID returns a short human-friendly identifier for this server process.
func InstanceID() (string, error) {
	result := make([]byte, InstanceSuffixLength)

	for i := range InstanceSuffixLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for instance id: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return "hub_" + string(result), nil
}
