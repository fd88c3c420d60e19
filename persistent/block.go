package persistent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Block is a fixed-width record: a payload, a logical address (or
// InvalidAddress for a dummy), and one leaf tag per sub-ORAM. Blocks are
// value-copyable; Clone returns an independent copy so that a caller can
// hand one out without the receiver being able to mutate the original's
// backing array.
type Block struct {
	Payload []byte
	Addr    uint64
	Leaf    []uint64 // Leaf[j] is this block's assigned leaf in sub-ORAM R_j.
}

// IsDummy reports whether this block represents an empty bucket slot.
func (b Block) IsDummy() bool { return b.Addr == InvalidAddress }

// Clone returns a deep copy of b.
func (b Block) Clone() Block {
	out := Block{Addr: b.Addr}
	out.Payload = append([]byte(nil), b.Payload...)
	out.Leaf = append([]uint64(nil), b.Leaf...)
	return out
}

// dummyBlock returns a zero-filled dummy block sized for the given params.
func dummyBlock(p *Params) Block {
	return Block{
		Payload: make([]byte, p.B),
		Addr:    InvalidAddress,
		Leaf:    make([]uint64, p.Ell+1),
	}
}

// marshalBlock writes b's on-storage encoding: payload || a || p[0] || ... ||
// p[ell], all integers little-endian 8-byte.
func marshalBlock(buf *bytes.Buffer, b Block, p *Params) error {
	if int64(len(b.Payload)) != p.B {
		return fmt.Errorf("%w: block payload is %d bytes, want %d", ErrInternal, len(b.Payload), p.B)
	} else if len(b.Leaf) != p.Ell+1 {
		return fmt.Errorf("%w: block has %d leaf tags, want %d", ErrInternal, len(b.Leaf), p.Ell+1)
	}

	if _, err := buf.Write(b.Payload); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, b.Addr); err != nil {
		return err
	}
	for _, leaf := range b.Leaf {
		if err := binary.Write(buf, binary.LittleEndian, leaf); err != nil {
			return err
		}
	}
	return nil
}

// unmarshalBlock reads one block's encoding from r.
func unmarshalBlock(r *bytes.Reader, p *Params) (Block, error) {
	payload := make([]byte, p.B)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	var addr uint64
	if err := binary.Read(r, binary.LittleEndian, &addr); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	leaf := make([]uint64, p.Ell+1)
	for i := range leaf {
		if err := binary.Read(r, binary.LittleEndian, &leaf[i]); err != nil {
			return Block{}, fmt.Errorf("%w: %v", ErrStorageIO, err)
		}
	}

	return Block{Payload: payload, Addr: addr, Leaf: leaf}, nil
}

// Bucket is a fixed array of exactly Z blocks; unused slots are dummies.
type Bucket struct {
	Blocks []Block
}

// newBucket packs items (at most p.Z of them) into a bucket, padding the
// remainder with dummies so the result always serializes to exactly
// BucketByteSize bytes.
func newBucket(items []Block, p *Params) (Bucket, error) {
	if int64(len(items)) > p.Z {
		return Bucket{}, fmt.Errorf("%w: %d items do not fit in a bucket of capacity %d", ErrInternal, len(items), p.Z)
	}
	blocks := make([]Block, 0, p.Z)
	blocks = append(blocks, items...)
	for int64(len(blocks)) < p.Z {
		blocks = append(blocks, dummyBlock(p))
	}
	return Bucket{Blocks: blocks}, nil
}

// MarshalBucket serializes a bucket to its fixed-size on-storage form.
func MarshalBucket(bucket Bucket, p *Params) ([]byte, error) {
	if int64(len(bucket.Blocks)) != p.Z {
		return nil, fmt.Errorf("%w: bucket has %d blocks, want %d", ErrInternal, len(bucket.Blocks), p.Z)
	}
	buf := new(bytes.Buffer)
	buf.Grow(int(p.BucketByteSize()))
	for _, b := range bucket.Blocks {
		if err := marshalBlock(buf, b, p); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBucket deserializes a bucket from its fixed-size on-storage form.
func UnmarshalBucket(data []byte, p *Params) (Bucket, error) {
	if int64(len(data)) != p.BucketByteSize() {
		return Bucket{}, fmt.Errorf("%w: bucket data is %d bytes, want %d", ErrStorageIO, len(data), p.BucketByteSize())
	}
	r := bytes.NewReader(data)
	blocks := make([]Block, 0, p.Z)
	for i := int64(0); i < p.Z; i++ {
		b, err := unmarshalBlock(r, p)
		if err != nil {
			return Bucket{}, err
		}
		blocks = append(blocks, b)
	}
	return Bucket{Blocks: blocks}, nil
}
