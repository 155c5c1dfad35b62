package crypto

// Scramble combines a console key_x and key_y into a working AES-128 key the
// way the console's hardware key scrambler does: rotate (keyX XOR keyY) left
// by 42 bits within the 128-bit value, then add a fixed constant modulo
// 2^128. This is documented console behavior (not derived from the pack);
// the implementation rotates and adds the 16-byte big-endian value byte by
// byte with explicit carries, matching the style of
// this package's other fixed-width byte manipulation (xorBlock, leftShift1)
// rather than reaching for a bignum package.
func Scramble(keyX, keyY [16]byte) [16]byte {
	xored := xor16(keyX, keyY)
	rotated := rotateLeft128(xored, 42)
	return add128(rotated, scrambleConstant)
}

// scrambleConstant is the console's fixed key-scrambler addend.
var scrambleConstant = [16]byte{
	0x1F, 0xF9, 0xE9, 0xAA, 0xC5, 0xFE, 0x04, 0x08,
	0x02, 0x45, 0x91, 0xDC, 0x5D, 0x52, 0x76, 0x8A,
}

func xor16(a, b [16]byte) [16]byte {
	var out [16]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// rotateLeft128 rotates a 128-bit big-endian value left by n bits (n < 128).
func rotateLeft128(v [16]byte, n uint) [16]byte {
	n %= 128
	byteShift := n / 8
	bitShift := n % 8

	var shifted [16]byte
	for i := 0; i < 16; i++ {
		srcIdx := (uint(i) + byteShift) % 16
		shifted[i] = v[srcIdx]
	}
	if bitShift == 0 {
		return shifted
	}

	var out [16]byte
	for i := 0; i < 16; i++ {
		next := shifted[(i+1)%16]
		out[i] = (shifted[i] << bitShift) | (next >> (8 - bitShift))
	}
	return out
}

// add128 returns (a+b) mod 2^128, big-endian.
func add128(a, b [16]byte) [16]byte {
	var out [16]byte
	carry := uint16(0)
	for i := 15; i >= 0; i-- {
		sum := uint16(a[i]) + uint16(b[i]) + carry
		out[i] = byte(sum)
		carry = sum >> 8
	}
	return out
}
