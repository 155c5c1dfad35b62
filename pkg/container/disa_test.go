package container

import (
	"bytes"
	"testing"

	"github.com/barnettlynn/save3dscore/pkg/difi"
	"github.com/barnettlynn/save3dscore/pkg/raf"
)

func newFormattedDisa(t *testing.T, key [16]byte, params []difi.Param, uniqueID uint64) *raf.MemoryFile {
	t.Helper()
	size := CalculateDisaSize(params)
	file := raf.NewMemoryFile(make([]byte, size))
	if err := FormatDisa(file, key, params, uniqueID); err != nil {
		t.Fatalf("FormatDisa: %v", err)
	}
	return file
}

func TestDisaFormatOpenWriteCommitReopenReadRoundTrip(t *testing.T) {
	var key [16]byte
	key[0] = 0x22
	p0 := sampleDiffParam(64)
	p1 := sampleDiffParam(32)
	file := newFormattedDisa(t, key, []difi.Param{p0, p1}, 0xcafef00d)

	c, err := OpenDisa(file, key, []difi.Param{p0, p1}, true)
	if err != nil {
		t.Fatalf("OpenDisa: %v", err)
	}
	if c.UniqueID() != 0xcafef00d {
		t.Fatalf("UniqueID() = %#x, want 0xcafef00d", c.UniqueID())
	}

	payload0 := bytes.Repeat([]byte{0x10}, 64)
	payload1 := bytes.Repeat([]byte{0x20}, 32)
	if err := c.Partition(0).Write(0, payload0); err != nil {
		t.Fatalf("Partition(0) Write: %v", err)
	}
	if err := c.Partition(1).Write(0, payload1); err != nil {
		t.Fatalf("Partition(1) Write: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reopened, err := OpenDisa(file, key, []difi.Param{p0, p1}, true)
	if err != nil {
		t.Fatalf("OpenDisa (reopen): %v", err)
	}
	got0 := make([]byte, 64)
	if err := reopened.Partition(0).Read(0, got0); err != nil {
		t.Fatalf("Partition(0) Read: %v", err)
	}
	if !bytes.Equal(got0, payload0) {
		t.Fatalf("partition 0 content mismatch")
	}
	got1 := make([]byte, 32)
	if err := reopened.Partition(1).Read(0, got1); err != nil {
		t.Fatalf("Partition(1) Read: %v", err)
	}
	if !bytes.Equal(got1, payload1) {
		t.Fatalf("partition 1 content mismatch")
	}
}

func TestDisaPartitionsAreIndependent(t *testing.T) {
	var key [16]byte
	p0 := sampleDiffParam(16)
	p1 := sampleDiffParam(16)
	file := newFormattedDisa(t, key, []difi.Param{p0, p1}, 1)

	c, err := OpenDisa(file, key, []difi.Param{p0, p1}, true)
	if err != nil {
		t.Fatalf("OpenDisa: %v", err)
	}
	if err := c.Partition(0).Write(0, bytes.Repeat([]byte{0xAA}, 16)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got1 := make([]byte, 16)
	if err := c.Partition(1).Read(0, got1); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got1, make([]byte, 16)) {
		t.Fatalf("writing partition 0 leaked into partition 1")
	}
}

func TestDisaCommitPublishesBothPartitionsAtomicallyWithOneSelectorFlip(t *testing.T) {
	var key [16]byte
	p0 := sampleDiffParam(16)
	p1 := sampleDiffParam(16)
	file := newFormattedDisa(t, key, []difi.Param{p0, p1}, 2)

	c, err := OpenDisa(file, key, []difi.Param{p0, p1}, true)
	if err != nil {
		t.Fatalf("OpenDisa: %v", err)
	}
	if err := c.Partition(0).Write(0, bytes.Repeat([]byte{0x01}, 16)); err != nil {
		t.Fatalf("Write p0: %v", err)
	}
	if err := c.Partition(1).Write(0, bytes.Repeat([]byte{0x02}, 16)); err != nil {
		t.Fatalf("Write p1: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	raw := make([]byte, disaHdrLen)
	headerBody, err := raf.NewSubFile(file, disaHdrOffset, disaHdrLen)
	if err != nil {
		t.Fatalf("NewSubFile: %v", err)
	}
	if err := headerBody.Read(0, raw); err != nil {
		t.Fatalf("Read header: %v", err)
	}
	var h disaHeader
	if err := h.unmarshal(raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if h.activeTable != 1 {
		t.Fatalf("active_table = %d after first commit, want 1", h.activeTable)
	}
}

func TestDisaOpenRejectsWrongKey(t *testing.T) {
	var key, wrongKey [16]byte
	key[0] = 0x5
	wrongKey[0] = 0x6
	p0 := sampleDiffParam(16)
	p1 := sampleDiffParam(16)
	file := newFormattedDisa(t, key, []difi.Param{p0, p1}, 3)

	if _, err := OpenDisa(file, wrongKey, []difi.Param{p0, p1}, true); !raf.IsSignatureMismatch(err) {
		t.Fatalf("expected KindSignatureMismatch, got %v", err)
	}
}

func TestDisaOpenDetectsTamperedPartitionData(t *testing.T) {
	var key [16]byte
	p0 := sampleDiffParam(16)
	p1 := sampleDiffParam(16)
	file := newFormattedDisa(t, key, []difi.Param{p0, p1}, 4)

	c, err := OpenDisa(file, key, []difi.Param{p0, p1}, true)
	if err != nil {
		t.Fatalf("OpenDisa: %v", err)
	}
	if err := c.Partition(0).Write(0, []byte("0123456789abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Corrupt one byte in each table copy, bypassing every hash/signature
	// layer; whichever copy the last commit left active, the table hash no
	// longer matches it.
	info := calculateDisaInfo([]difi.Param{p0, p1})
	for _, off := range []int64{info.primaryTableOffset, info.secondaryTableOffset} {
		var b [1]byte
		file.Read(off, b[:])
		b[0] ^= 0xFF
		file.Write(off, b[:])
	}

	reopened, err := OpenDisa(file, key, []difi.Param{p0, p1}, true)
	if err != nil {
		t.Fatalf("OpenDisa (reopen): %v", err)
	}
	err0 := reopened.Partition(0).Read(0, make([]byte, 16))
	err1 := reopened.Partition(1).Read(0, make([]byte, 16))
	if !raf.IsHashMismatch(err0) && !raf.IsHashMismatch(err1) {
		t.Fatalf("expected a KindHashMismatch from one of the two partitions, got %v / %v", err0, err1)
	}
}

func TestDisaSinglePartitionRoundTrip(t *testing.T) {
	var key [16]byte
	key[0] = 0x77
	p := sampleDiffParam(48)
	file := newFormattedDisa(t, key, []difi.Param{p}, 5)

	c, err := OpenDisa(file, key, []difi.Param{p}, true)
	if err != nil {
		t.Fatalf("OpenDisa: %v", err)
	}
	if c.PartitionCount() != 1 {
		t.Fatalf("PartitionCount() = %d, want 1", c.PartitionCount())
	}

	payload := bytes.Repeat([]byte{0x31}, 48)
	if err := c.Partition(0).Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reopened, err := OpenDisa(file, key, []difi.Param{p}, true)
	if err != nil {
		t.Fatalf("OpenDisa (reopen): %v", err)
	}
	got := make([]byte, 48)
	if err := reopened.Partition(0).Read(0, got); err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("single-partition round trip mismatch")
	}
}

func TestDisaOpenRejectsPartitionCountMismatch(t *testing.T) {
	var key [16]byte
	p := sampleDiffParam(16)
	file := newFormattedDisa(t, key, []difi.Param{p}, 6)

	if _, err := OpenDisa(file, key, []difi.Param{p, p}, true); !raf.IsBrokenLayout(err) {
		t.Fatalf("expected KindBrokenLayout for a partition count mismatch, got %v", err)
	}
}
