/*
Package raf provides the stacked random-access file layers that wrap a
save-data container's user-visible filesystem inside a layered
cryptographic and integrity-verification envelope.

Every layer implements RandomAccessFile: a fixed-length byte region with
positioned read, positioned write, and an explicit commit. Layers compose by
wrapping a parent, leaves first; the top of the stack is handed to whatever
consumer needs the committed, verified, decrypted view.

# Layer order (leaves first)

	MemoryFile / DiskFile   leaf backing store
	SubFile                 windowed view into a parent
	AesCtrFile               transparent AES-128-CTR over a parent
	SignedFile               AES-CMAC tag over a payload region
	DualFile                 atomic A/B copy selection
	IvfcLevel                one level of a SHA-256 hash tree

Higher packages (pkg/difi, pkg/container) compose these into the DPFS
(dual-pyramid) and IVFC (hash-chain) structures of a DIFI partition, and
finally into DIFF/DISA container framing.

# Commit semantics

Write only stages state; nothing is durable until Commit is called, top of
the stack down, which then cascades bottom-up inside each composite.
IvfcLevel flushes staged hashes before committing its hash store and data;
DualFile's commit is a pure selector flip — copy content is already written
through, and the enclosing composite is responsible for syncing the leaf
after all flips have landed. A crash at any point during a cascade leaves
the previous committed view intact — the caller never observes a
half-published batch.

# Failure kinds

	OutOfBound          read/write range outside the file's fixed length
	SizeMismatch         layout/format corruption (mismatched pair/selector lengths)
	SignatureMismatch    SignedFile's recomputed CMAC didn't match the stored tag
	HashMismatch         IvfcLevel's recomputed SHA-256 didn't match the stored hash
	IO                   underlying disk I/O failure

HashMismatch is the one failure a caller may choose to treat as non-fatal
on read (return the possibly-corrupt bytes anyway); every other layer
treats its own failures as fatal to construction or to the operation in
progress. See errors.go for the full Kind enumeration and the IsXxx
predicates used to test for a specific kind.

# Concurrency

Single-threaded, single-actor per RandomAccessFile stack: no layer locks
internally, and sharing a parent between peers (e.g. two SubFiles viewing
disjoint windows of the same header) is safe only because the caller
serializes all access. There is no async/await equivalent here; blocking
happens only at DiskFile's OS I/O calls.
*/
package raf
