package raf

import (
	"crypto/aes"
)

const aesBlockLen = 16

// AesCtrFile transparently encrypts/decrypts a parent region with AES-128 in
// CTR mode. The counter is a 128-bit big-endian value equal to
// baseCtr + (byteOffset/16); it increments by one per 16-byte block. Partial
// blocks at either end of a request are handled by keystreaming the whole
// touched block and XORing only the requested slice, so no plaintext outside
// the caller's window is ever materialized.
type AesCtrFile struct {
	parent  RandomAccessFile
	block   cipherBlock
	baseCtr [16]byte
}

type cipherBlock interface {
	Encrypt(dst, src []byte)
	BlockSize() int
}

// NewAesCtrFile constructs a transparent AES-128-CTR view over parent.
func NewAesCtrFile(parent RandomAccessFile, key, baseCtr [16]byte) (*AesCtrFile, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, wrapError(KindIO, "AesCtrFile.New", err)
	}
	return &AesCtrFile{parent: parent, block: block, baseCtr: baseCtr}, nil
}

func (f *AesCtrFile) Len() int64 {
	return f.parent.Len()
}

func (f *AesCtrFile) Commit() error {
	return f.parent.Commit()
}

func (f *AesCtrFile) Read(pos int64, buf []byte) error {
	if err := checkBounds("AesCtrFile.Read", pos, len(buf), f.Len()); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	if err := f.parent.Read(pos, buf); err != nil {
		return err
	}
	f.xorKeystream(pos, buf)
	return nil
}

func (f *AesCtrFile) Write(pos int64, buf []byte) error {
	if err := checkBounds("AesCtrFile.Write", pos, len(buf), f.Len()); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	cipherText := make([]byte, len(buf))
	copy(cipherText, buf)
	f.xorKeystream(pos, cipherText)
	return f.parent.Write(pos, cipherText)
}

// xorKeystream XORs buf in place with the AES-CTR keystream for the byte
// range [pos, pos+len(buf)), counting blocks from baseCtr.
func (f *AesCtrFile) xorKeystream(pos int64, buf []byte) {
	blockIndex := pos / aesBlockLen
	blockOff := int(pos % aesBlockLen)

	ctr := addCounter(f.baseCtr, blockIndex)
	keystream := make([]byte, aesBlockLen)
	done := 0
	for done < len(buf) {
		f.block.Encrypt(keystream, ctr[:])
		n := aesBlockLen - blockOff
		if remaining := len(buf) - done; n > remaining {
			n = remaining
		}
		for i := 0; i < n; i++ {
			buf[done+i] ^= keystream[blockOff+i]
		}
		done += n
		blockOff = 0
		ctr = incrementCounter(ctr)
	}
}

// addCounter returns base + delta as a 128-bit big-endian value. delta is
// non-negative and fits comfortably in 64 bits (block-index arithmetic over
// any realistic save image), so it is added byte-by-byte from the least
// significant end with carry propagating across the full 16 bytes.
func addCounter(base [16]byte, delta int64) [16]byte {
	out := base
	d := uint64(delta)
	carry := uint64(0)
	for i := 15; i >= 0; i-- {
		add := carry
		if i >= 8 {
			add += d & 0xFF
			d >>= 8
		}
		sum := uint64(out[i]) + add
		out[i] = byte(sum)
		carry = sum >> 8
	}
	return out
}

// incrementCounter returns ctr+1 as a 128-bit big-endian value, carrying
// across the full width.
func incrementCounter(ctr [16]byte) [16]byte {
	out := ctr
	for i := 15; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}
