// Package raf implements the stacked random-access file layers that make up
// a save-data container's cryptographic and integrity-verification envelope:
// leaf backing stores, windowing, AES-CTR encryption, AES-CMAC signing,
// atomic dual-copy swapping, and SHA-256 hash-tree verification. Every layer
// implements RandomAccessFile; layers compose by wrapping a parent, leaves
// first.
package raf

// RandomAccessFile is the uniform capability every layer presents: a
// contiguous byte region of known, fixed length, with positioned read and
// write and an explicit commit. No layer extends its own length after
// construction.
//
// Single-actor use only (see package doc for the concurrency model): no
// layer locks internally, and composing two stacks over the same leaf is the
// caller's responsibility to serialize.
type RandomAccessFile interface {
	// Read fills buf from pos. pos+len(buf) > Len() fails with KindOutOfBound.
	Read(pos int64, buf []byte) error
	// Write stores buf at pos. pos+len(buf) > Len() fails with KindOutOfBound.
	// After Write returns nil, Read(pos, len(buf)) on the same instance
	// returns buf (read-your-write within one instance).
	Write(pos int64, buf []byte) error
	// Len returns the file's fixed length, immutable for the file's lifetime.
	Len() int64
	// Commit publishes pending writes so that reconstructing the layer stack
	// over the same leaf reproduces the committed view. Uncommitted writes
	// may or may not survive a reconstruction.
	Commit() error
}

func checkBounds(context string, pos int64, n int, length int64) error {
	if pos < 0 || n < 0 || pos+int64(n) > length {
		return newError(KindOutOfBound, context)
	}
	return nil
}
