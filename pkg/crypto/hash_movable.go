package crypto

import (
	"crypto/sha256"
	"fmt"
)

// HashMovable derives the per-console SD directory name from key_y the way
// the console's filesystem driver does: SHA-256 the key, then hex-encode
// the digest's first 16 bytes with each 4-byte little-endian word's bytes
// reversed to big-endian before encoding (the directory name is those bytes
// formatted as four 32-bit little-endian integers' hex digits).
func HashMovable(keyY [16]byte) string {
	sum := sha256.Sum256(keyY[:])
	order := [16]int{3, 2, 1, 0, 7, 6, 5, 4, 11, 10, 9, 8, 15, 14, 13, 12}
	out := make([]byte, 0, 32)
	for _, idx := range order {
		out = append(out, []byte(fmt.Sprintf("%02x", sum[idx]))...)
	}
	return string(out)
}

// DeriveCounter derives the AES-CTR base counter for a per-file SD encryption
// layer from its path components, matching sd.rs/lib.rs: build "/" + path
// for each component back to back, append a single zero terminator byte,
// then widen every byte of that sequence to a little-endian 16-bit unit
// (c, 0) before hashing with SHA-256. The base counter is the XOR of the
// digest's first and second halves.
func DeriveCounter(path []string) [16]byte {
	var raw []byte
	for _, component := range path {
		raw = append(raw, '/')
		raw = append(raw, component...)
	}
	raw = append(raw, 0)

	encoded := make([]byte, 0, len(raw)*2)
	for _, c := range raw {
		encoded = append(encoded, c, 0)
	}

	sum := sha256.Sum256(encoded)
	var ctr [16]byte
	for i := range ctr {
		ctr[i] = sum[i] ^ sum[i+16]
	}
	return ctr
}
