package raf

import "os"

// DiskFile is a leaf RandomAccessFile backed by an OS file handle. The
// caller opens the *os.File (read-write, already sized by a prior Format
// call or os.File.Truncate); DiskFile fixes Len at construction via Stat and
// never resizes it.
type DiskFile struct {
	f   *os.File
	len int64
}

// NewDiskFile wraps an already-open file. The file's current size becomes
// the fixed length for the lifetime of this DiskFile.
func NewDiskFile(f *os.File) (*DiskFile, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, wrapError(KindIO, "DiskFile.New stat", err)
	}
	return &DiskFile{f: f, len: info.Size()}, nil
}

func (f *DiskFile) Read(pos int64, buf []byte) error {
	if err := checkBounds("DiskFile.Read", pos, len(buf), f.len); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	if _, err := f.f.ReadAt(buf, pos); err != nil {
		return wrapError(KindIO, "DiskFile.Read", err)
	}
	return nil
}

func (f *DiskFile) Write(pos int64, buf []byte) error {
	if err := checkBounds("DiskFile.Write", pos, len(buf), f.len); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	if _, err := f.f.WriteAt(buf, pos); err != nil {
		return wrapError(KindIO, "DiskFile.Write", err)
	}
	return nil
}

func (f *DiskFile) Len() int64 {
	return f.len
}

func (f *DiskFile) Commit() error {
	if err := f.f.Sync(); err != nil {
		return wrapError(KindIO, "DiskFile.Commit sync", err)
	}
	return nil
}

// Close releases the underlying OS file handle. Commit is not implicit on
// close; callers must Commit before Close to publish pending writes.
func (f *DiskFile) Close() error {
	return f.f.Close()
}
