package difi

import "github.com/barnettlynn/save3dscore/pkg/raf"

// bitSelector exposes one bit of one byte within parent as a 1-byte
// RandomAccessFile: block index i selects bit i mod 8 of byte i/8, the
// addressing scheme a DPFS level's selector bitmap uses. It reads and writes
// through to the underlying byte, touching only its own bit.
type bitSelector struct {
	parent    raf.RandomAccessFile
	byteOff   int64
	bitInByte uint
}

// newBitSelector returns the selector for DPFS block index i within parent,
// which must contain at least ceil((i+1)/8) bytes at byteBase.
func newBitSelector(parent raf.RandomAccessFile, byteBase int64, blockIndex int64) *bitSelector {
	return &bitSelector{
		parent:    parent,
		byteOff:   byteBase + blockIndex/8,
		bitInByte: uint(blockIndex % 8),
	}
}

func (s *bitSelector) Len() int64 { return 1 }

func (s *bitSelector) Read(pos int64, buf []byte) error {
	if pos != 0 || len(buf) != 1 {
		return raf.NewError(raf.KindOutOfBound, "bitSelector.Read")
	}
	var b [1]byte
	if err := s.parent.Read(s.byteOff, b[:]); err != nil {
		return err
	}
	buf[0] = (b[0] >> s.bitInByte) & 1
	return nil
}

func (s *bitSelector) Write(pos int64, buf []byte) error {
	if pos != 0 || len(buf) != 1 {
		return raf.NewError(raf.KindOutOfBound, "bitSelector.Write")
	}
	var b [1]byte
	if err := s.parent.Read(s.byteOff, b[:]); err != nil {
		return err
	}
	b[0] = (b[0] &^ (1 << s.bitInByte)) | ((buf[0] & 1) << s.bitInByte)
	return s.parent.Write(s.byteOff, b[:])
}

func (s *bitSelector) Commit() error { return s.parent.Commit() }
