package container

import (
	"bytes"
	"testing"

	"github.com/barnettlynn/save3dscore/pkg/difi"
	"github.com/barnettlynn/save3dscore/pkg/raf"
)

func sampleDiffParam(dataLen int64) difi.Param {
	return difi.Param{
		DpfsLevel2BlockLen: 16,
		DpfsLevel3BlockLen: 16,
		IvfcLevel1BlockLen: 16,
		IvfcLevel2BlockLen: 16,
		IvfcLevel3BlockLen: 16,
		IvfcLevel4BlockLen: 16,
		DataLen:            dataLen,
	}
}

func newFormattedDiff(t *testing.T, key [16]byte, p difi.Param, uniqueID uint64) *raf.MemoryFile {
	t.Helper()
	size := CalculateDiffSize(p)
	file := raf.NewMemoryFile(make([]byte, size))
	if err := FormatDiff(file, key, p, uniqueID); err != nil {
		t.Fatalf("FormatDiff: %v", err)
	}
	return file
}

func TestDiffFormatOpenWriteCommitReopenReadRoundTrip(t *testing.T) {
	var key [16]byte
	key[0] = 0x11
	p := sampleDiffParam(64)
	file := newFormattedDiff(t, key, p, 0xdeadbeef)

	c, err := OpenWithKey(file, key, p)
	if err != nil {
		t.Fatalf("OpenWithKey: %v", err)
	}
	if c.UniqueID() != 0xdeadbeef {
		t.Fatalf("UniqueID() = %#x, want 0xdeadbeef", c.UniqueID())
	}

	payload := bytes.Repeat([]byte{0x42}, 64)
	if err := c.Data().Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reopened, err := OpenWithKey(file, key, p)
	if err != nil {
		t.Fatalf("OpenWithKey (reopen): %v", err)
	}
	got := make([]byte, 64)
	if err := reopened.Data().Read(0, got); err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reopened content mismatch")
	}
}

func TestDiffUncommittedWriteDoesNotSurviveReopen(t *testing.T) {
	var key [16]byte
	p := sampleDiffParam(32)
	file := newFormattedDiff(t, key, p, 1)

	c, err := OpenWithKey(file, key, p)
	if err != nil {
		t.Fatalf("OpenWithKey: %v", err)
	}
	if err := c.Data().Write(0, bytes.Repeat([]byte{0x99}, 32)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// No Commit.

	reopened, err := OpenWithKey(file, key, p)
	if err != nil {
		t.Fatalf("OpenWithKey (reopen): %v", err)
	}
	got := make([]byte, 32)
	if err := reopened.Data().Read(0, got); err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(got, make([]byte, 32)) {
		t.Fatalf("uncommitted write leaked into reopened container")
	}
}

func TestDiffOpenDetectsTamperedPartitionData(t *testing.T) {
	var key [16]byte
	p := sampleDiffParam(16)
	file := newFormattedDiff(t, key, p, 2)

	c, err := OpenWithKey(file, key, p)
	if err != nil {
		t.Fatalf("OpenWithKey: %v", err)
	}
	if err := c.Data().Write(0, []byte("0123456789abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Flip a byte in the file's last byte, inside the embedded data region,
	// bypassing every hash/signature layer.
	raw := make([]byte, file.Len())
	file.Read(0, raw)
	raw[len(raw)-1] ^= 0xFF
	file.Write(file.Len()-1, raw[len(raw)-1:])

	reopened, err := OpenWithKey(file, key, p)
	if err != nil {
		t.Fatalf("OpenWithKey (reopen): %v", err)
	}
	if err := reopened.Data().Read(0, make([]byte, 16)); !raf.IsHashMismatch(err) {
		t.Fatalf("expected KindHashMismatch, got %v", err)
	}
}

func TestDiffOpenDetectsTamperedHeader(t *testing.T) {
	var key [16]byte
	p := sampleDiffParam(16)
	file := newFormattedDiff(t, key, p, 3)

	// Flip a byte inside the signed header body (well past the tag, inside
	// diffHdrOffset..diffHdrOffset+diffHdrLen).
	raw := make([]byte, file.Len())
	file.Read(0, raw)
	raw[diffHdrOffset+4] ^= 0x01
	file.Write(diffHdrOffset+4, raw[diffHdrOffset+4:diffHdrOffset+5])

	if _, err := OpenWithKey(file, key, p); !raf.IsMagicMismatch(err) && !raf.IsSignatureMismatch(err) {
		t.Fatalf("expected magic or signature mismatch on corrupted header, got %v", err)
	}
}

func TestDiffOpenWithWrongKeyFailsSignature(t *testing.T) {
	var key, wrongKey [16]byte
	key[0] = 0xAA
	wrongKey[0] = 0xBB
	p := sampleDiffParam(16)
	file := newFormattedDiff(t, key, p, 4)

	if _, err := OpenWithKey(file, wrongKey, p); !raf.IsSignatureMismatch(err) {
		t.Fatalf("expected KindSignatureMismatch with wrong key, got %v", err)
	}
}

func TestDiffOpenBareSkipsSignatureCheck(t *testing.T) {
	var key, wrongKey [16]byte
	key[0] = 0xAA
	wrongKey[0] = 0xBB
	p := sampleDiffParam(16)
	file := newFormattedDiff(t, key, p, 5)

	if _, err := OpenBare(file, p); err != nil {
		t.Fatalf("OpenBare: %v", err)
	}
}

func TestDiffOpenRejectsMismatchedParam(t *testing.T) {
	var key [16]byte
	p := sampleDiffParam(16)
	file := newFormattedDiff(t, key, p, 6)

	// A different data length yields a different table size, which the
	// stored header contradicts.
	wrongShape := sampleDiffParam(32)
	if _, err := OpenWithKey(file, key, wrongShape); !raf.IsBrokenLayout(err) {
		t.Fatalf("expected KindBrokenLayout for mismatched param, got %v", err)
	}
}

func TestDiffExternalDataRoundTrip(t *testing.T) {
	var key [16]byte
	p := sampleDiffParam(48)
	p.ExternalIvfcLevel4 = true
	file := newFormattedDiff(t, key, p, 7)

	c, err := OpenWithKey(file, key, p)
	if err != nil {
		t.Fatalf("OpenWithKey: %v", err)
	}
	payload := bytes.Repeat([]byte{0x77}, 48)
	if err := c.Data().Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reopened, err := OpenWithKey(file, key, p)
	if err != nil {
		t.Fatalf("OpenWithKey (reopen): %v", err)
	}
	got := make([]byte, 48)
	if err := reopened.Data().Read(0, got); err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("external data round trip mismatch")
	}
}
