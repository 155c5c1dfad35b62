package raf

// DualFile presents one logical region backed by two physical copies and a
// 1-byte selector, giving atomic all-or-nothing publication of a batch of
// writes through a single selector-bit flip. The first write in a session
// copies the unmodified prefix/suffix from the active copy into the
// inactive one, then targets the inactive copy for the remainder of the
// session.
type DualFile struct {
	selector RandomAccessFile // 1 byte
	pair     [2]RandomAccessFile
	modified bool
	length   int64
}

// NewDualFile constructs a DualFile over a 1-byte selector and two
// same-length copies. Fails with KindSizeMismatch if the copies' lengths
// differ or the selector is not exactly 1 byte.
func NewDualFile(selector RandomAccessFile, pair [2]RandomAccessFile) (*DualFile, error) {
	length := pair[0].Len()
	if pair[1].Len() != length {
		return nil, newError(KindSizeMismatch, "DualFile.New pair length")
	}
	if selector.Len() != 1 {
		return nil, newError(KindSizeMismatch, "DualFile.New selector length")
	}
	return &DualFile{selector: selector, pair: pair, length: length}, nil
}

func (f *DualFile) active() (int, error) {
	var sel [1]byte
	if err := f.selector.Read(0, sel[:]); err != nil {
		return 0, err
	}
	cur := sel[0]
	if f.modified {
		cur ^= 1
	}
	return int(cur), nil
}

func (f *DualFile) Read(pos int64, buf []byte) error {
	if err := checkBounds("DualFile.Read", pos, len(buf), f.length); err != nil {
		return err
	}
	cur, err := f.active()
	if err != nil {
		return err
	}
	return f.pair[cur].Read(pos, buf)
}

func (f *DualFile) Write(pos int64, buf []byte) error {
	end := pos + int64(len(buf))
	if err := checkBounds("DualFile.Write", pos, len(buf), f.length); err != nil {
		return err
	}
	var sel [1]byte
	if err := f.selector.Read(0, sel[:]); err != nil {
		return err
	}
	prev := int(sel[0])
	cur := 1 - prev

	if !f.modified {
		if pos != 0 {
			edge := make([]byte, pos)
			if err := f.pair[prev].Read(0, edge); err != nil {
				return err
			}
			if err := f.pair[cur].Write(0, edge); err != nil {
				return err
			}
		}
		if end != f.length {
			edge := make([]byte, f.length-end)
			if err := f.pair[prev].Read(end, edge); err != nil {
				return err
			}
			if err := f.pair[cur].Write(end, edge); err != nil {
				return err
			}
		}
	}

	if err := f.pair[cur].Write(pos, buf); err != nil {
		return err
	}
	f.modified = true
	return nil
}

func (f *DualFile) Len() int64 {
	return f.length
}

// Commit flips the selector if any write happened this session, then clears
// the modified flag. The flip is the only action: pending copy content is
// already written through, and durability of the leaf is the enclosing
// composite's job. If a crash happens before the flip reaches storage, the
// previously active copy is still authoritative; after, the freshly written
// copy is.
func (f *DualFile) Commit() error {
	if !f.modified {
		return nil
	}
	var sel [1]byte
	if err := f.selector.Read(0, sel[:]); err != nil {
		return err
	}
	sel[0] = 1 - sel[0]
	if err := f.selector.Write(0, sel[:]); err != nil {
		return err
	}
	f.modified = false
	return nil
}
