// Copyright the rbft-core authors.
// SPDX-License-Identifier: Apache-2.0

package rbftpb

import (
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// DigestSize is the fixed width of a Digest, in bytes.
const DigestSize = 32

// Digest is a fixed-width hash over the canonical serialization of its
// subject (spec.md §3: "a fixed-width hash over the canonical
// serialization"). It is comparable and usable as a map key.
type Digest [DigestSize]byte

// ZeroDigest is the Digest of an empty input, used as the base case for
// ledgers and checkpoints that have not yet ordered anything.
var ZeroDigest = SumDigest()

// SumDigest hashes the concatenation of parts into a Digest.
func SumDigest(parts ...[]byte) Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key, and we never pass one.
		panic(err)
	}
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// DigestFromBytes validates and converts a wire byte slice into a Digest.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, errors.Errorf("digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// Bytes returns the wire representation of d.
func (d Digest) Bytes() []byte {
	out := make([]byte, DigestSize)
	copy(out, d[:])
	return out
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the hex encoding of d, for logs and error messages.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}
