package raf

// Signer computes a 16-byte authentication tag over a body keyed by a
// 16-byte key. pkg/crypto.CMACSigner implements this with AES-CMAC.
type Signer interface {
	Sign(key [16]byte, body []byte) ([16]byte, error)
}

// SignedFile authenticates a body region against a 16-byte tag region with a
// Signer. Verified construction recomputes the tag over the current body and
// fails with KindSignatureMismatch on mismatch; unverified construction skips
// that check and is used only when formatting a fresh container, before a
// valid tag exists.
type SignedFile struct {
	tag    RandomAccessFile // 16-byte window
	body   RandomAccessFile
	signer Signer
	key    [16]byte
	dirty  bool
}

// NewSignedFile constructs a verified SignedFile: it reads the body, signs
// it, and compares against tag. Fails with KindSizeMismatch if tag is not
// exactly 16 bytes, and KindSignatureMismatch on a tag mismatch.
func NewSignedFile(tag, body RandomAccessFile, signer Signer, key [16]byte) (*SignedFile, error) {
	if tag.Len() != 16 {
		return nil, newError(KindSizeMismatch, "SignedFile.New tag length")
	}
	f := &SignedFile{tag: tag, body: body, signer: signer, key: key}
	if err := f.verify(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewSignedFileUnverified constructs a SignedFile without checking the
// current tag, for use during Format before a valid tag has been written.
func NewSignedFileUnverified(tag, body RandomAccessFile, signer Signer, key [16]byte) (*SignedFile, error) {
	if tag.Len() != 16 {
		return nil, newError(KindSizeMismatch, "SignedFile.NewUnverified tag length")
	}
	return &SignedFile{tag: tag, body: body, signer: signer, key: key}, nil
}

func (f *SignedFile) verify() error {
	computed, err := f.computeTag()
	if err != nil {
		return err
	}
	var stored [16]byte
	if err := f.tag.Read(0, stored[:]); err != nil {
		return err
	}
	if computed != stored {
		return newError(KindSignatureMismatch, "SignedFile.verify")
	}
	return nil
}

func (f *SignedFile) computeTag() ([16]byte, error) {
	body := make([]byte, f.body.Len())
	if err := f.body.Read(0, body); err != nil {
		return [16]byte{}, err
	}
	tag, err := f.signer.Sign(f.key, body)
	if err != nil {
		return [16]byte{}, wrapError(KindIO, "SignedFile.computeTag sign", err)
	}
	return tag, nil
}

func (f *SignedFile) Read(pos int64, buf []byte) error {
	return f.body.Read(pos, buf)
}

func (f *SignedFile) Write(pos int64, buf []byte) error {
	if err := f.body.Write(pos, buf); err != nil {
		return err
	}
	f.dirty = true
	return nil
}

func (f *SignedFile) Len() int64 {
	return f.body.Len()
}

// Commit recomputes and writes the tag if the body was modified since the
// last commit, then commits the tag region and the body in that order.
func (f *SignedFile) Commit() error {
	if f.dirty {
		tag, err := f.computeTag()
		if err != nil {
			return err
		}
		if err := f.tag.Write(0, tag[:]); err != nil {
			return err
		}
		f.dirty = false
	}
	if err := f.tag.Commit(); err != nil {
		return err
	}
	return f.body.Commit()
}
