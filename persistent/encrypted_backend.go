package persistent

import "hash/fnv"

// EncryptedBackend wraps a StorageBackend and encrypts every block's payload
// before it reaches the base backend, decrypting on the way back out.
//
// Each block is keyed by an identifier derived from its physical slot
// (level, bucket index, slot-within-bucket) rather than its logical address.
// A logical-address key would be simpler, but it reuses the same key+IV for every
// write of the same address over the block's lifetime; an address-keyed
// CTR stream is fine for a single write but leaks the XOR of successive
// payloads at that address once it's evicted and rewritten. Keying by
// physical slot gives every encrypt call a fresh identifier, including
// across the many dummy blocks sharing Addr == InvalidAddress, which is
// necessary to keep ciphertexts looking independent (two dummy slots must
// not encrypt to identical ciphertext, or a passive observer could tell
// dummy slots apart from valid ones by repetition).
type EncryptedBackend struct {
	base   StorageBackend
	crypto CryptoProvider
	params *Params
}

// NewEncryptedBackend wraps base so that every bucket that passes through it
// has its blocks' payloads encrypted at rest.
func NewEncryptedBackend(base StorageBackend, crypto CryptoProvider, p *Params) *EncryptedBackend {
	return &EncryptedBackend{base: base, crypto: crypto, params: p}
}

func (e *EncryptedBackend) BucketByteSize() int64 { return e.base.BucketByteSize() }
func (e *EncryptedBackend) SeekCount() uint64     { return e.base.SeekCount() }

func (e *EncryptedBackend) ReadBuckets(level int, start, count uint64, out []Bucket) error {
	if err := e.base.ReadBuckets(level, start, count, out); err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		bucketIdx := start + i
		for slot := range out[i].Blocks {
			id := slotID(level, bucketIdx, slot)
			if err := e.crypto.Decrypt(out[i].Blocks[slot].Payload, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *EncryptedBackend) WriteBuckets(level int, start uint64, buckets []Bucket) error {
	// Encrypt copies so the caller's in-memory plaintext blocks are
	// untouched; the stash and tree read paths both expect to keep working
	// with plaintext Block values.
	ciphertext := make([]Bucket, len(buckets))
	for i, bucket := range buckets {
		bucketIdx := start + uint64(i)
		blocks := make([]Block, len(bucket.Blocks))
		for slot, b := range bucket.Blocks {
			cb := b.Clone()
			id := slotID(level, bucketIdx, slot)
			if err := e.crypto.Encrypt(cb.Payload, id); err != nil {
				return err
			}
			blocks[slot] = cb
		}
		ciphertext[i] = Bucket{Blocks: blocks}
	}
	return e.base.WriteBuckets(level, start, ciphertext)
}

// slotID combines a bucket's tree coordinates and a slot index into a
// single 64-bit identifier, stable across a write/read pair at the same
// physical location.
func slotID(level int, bucketIdx uint64, slot int) uint64 {
	h := fnv.New64a()
	var buf [24]byte
	putUint64(buf[0:8], uint64(level))
	putUint64(buf[8:16], bucketIdx)
	putUint64(buf[16:24], uint64(slot))
	h.Write(buf[:])
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
