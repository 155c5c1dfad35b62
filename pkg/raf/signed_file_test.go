package raf

import (
	"bytes"
	"testing"
)

type constSigner struct {
	tag [16]byte
	err error
}

func (s constSigner) Sign(key [16]byte, body []byte) ([16]byte, error) {
	if s.err != nil {
		return [16]byte{}, s.err
	}
	// Fold key and body length into the tag so different keys or body
	// lengths sign differently, without pulling in real CMAC for this unit
	// test. Bodies of equal length under one key share a tag.
	out := s.tag
	out[0] ^= key[0]
	out[1] ^= byte(len(body))
	return out, nil
}

func TestSignedFileVerifiesOnOpen(t *testing.T) {
	body := NewMemoryFile([]byte("hello, container"))
	signer := constSigner{}
	var key [16]byte
	key[0] = 0x42

	tagValue, err := signer.Sign(key, mustRead(t, body))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tag := NewMemoryFile(tagValue[:])

	if _, err := NewSignedFile(tag, body, signer, key); err != nil {
		t.Fatalf("NewSignedFile: %v", err)
	}
}

func TestSignedFileRejectsWrongTag(t *testing.T) {
	body := NewMemoryFile([]byte("hello, container"))
	signer := constSigner{}
	var key [16]byte
	tag := NewMemoryFile(make([]byte, 16)) // all-zero, wrong

	_, err := NewSignedFile(tag, body, signer, key)
	if !IsSignatureMismatch(err) {
		t.Fatalf("expected KindSignatureMismatch, got %v", err)
	}
}

func TestSignedFileCommitRecomputesTagOnlyWhenDirty(t *testing.T) {
	body := NewMemoryFile([]byte("0123456789ABCDEF"))
	signer := constSigner{}
	var key [16]byte
	key[0] = 0x7

	tagValue, _ := signer.Sign(key, mustRead(t, body))
	tag := NewMemoryFile(tagValue[:])

	f, err := NewSignedFile(tag, body, signer, key)
	if err != nil {
		t.Fatalf("NewSignedFile: %v", err)
	}

	// Not dirty yet: Commit must leave the tag region untouched, so a stale
	// tag planted here survives it.
	stale := bytes.Repeat([]byte{0xEE}, 16)
	if err := tag.Write(0, stale); err != nil {
		t.Fatalf("plant stale tag: %v", err)
	}
	if err := f.Commit(); err != nil {
		t.Fatalf("Commit (clean): %v", err)
	}
	if !bytes.Equal(mustRead(t, tag), stale) {
		t.Fatalf("clean Commit rewrote the tag")
	}

	if err := f.Write(0, []byte("Z")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Reopen verified: the dirty Commit must have replaced the stale tag
	// with one matching the new body.
	if _, err := NewSignedFile(tag, body, signer, key); err != nil {
		t.Fatalf("reopen after commit should verify cleanly: %v", err)
	}
}

func mustRead(t *testing.T, f RandomAccessFile) []byte {
	t.Helper()
	buf := make([]byte, f.Len())
	if err := f.Read(0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	return buf
}
