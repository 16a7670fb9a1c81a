package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// ErrCorruptCheckpoint is returned, never raised, when checkpoint data cannot
// be decoded.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// CheckpointHeader precedes the tensor records of a checkpoint. Each record is
// [NDim(1)][Shape(8*NDim)][Data(8*elems)], little endian.
type CheckpointHeader struct {
	Magic    uint32
	Version  uint16
	Reserved uint16
	Count    uint32 // number of tensor records
	Checksum uint32 // CRC-32 (IEEE) of the records
}

const (
	CheckpointMagic      = 0x45594E54 // "TNYE" in little endian
	CheckpointVersion    = 1
	CheckpointHeaderSize = 16

	// minRecordSize is the encoding of a rank-0 tensor: one rank byte and one
	// element.
	minRecordSize = 1 + FloatSize
)

// WriteCheckpoint writes the data of tensors to w. Gradients are not saved.
func WriteCheckpoint(w io.Writer, tensors ...*Tensor) error {
	body := &bytes.Buffer{}
	for i, t := range tensors {
		if t == nil {
			return fmt.Errorf("checkpoint: tensor %d: %w", i, ErrNilReference)
		}
		if err := body.WriteByte(uint8(t.NDim)); err != nil {
			return err
		}
		if err := binary.Write(body, binary.LittleEndian, t.Shape[:t.NDim]); err != nil {
			return err
		}
		if err := binary.Write(body, binary.LittleEndian, t.Data); err != nil {
			return err
		}
	}

	header := CheckpointHeader{
		Magic:    CheckpointMagic,
		Version:  CheckpointVersion,
		Count:    uint32(len(tensors)),
		Checksum: crc32.ChecksumIEEE(body.Bytes()),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// ReadCheckpoint decodes every tensor in r, allocating each from a.
func ReadCheckpoint(r io.Reader, a *Arena) ([]*Tensor, error) {
	body, count, err := readCheckpointBody(r)
	if err != nil {
		return nil, err
	}

	buf := bytes.NewReader(body)
	tensors := make([]*Tensor, 0, count)
	for i := range count {
		shape, err := readShape(buf)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: tensor %d: %w", i, err)
		}

		elems, limit := 1, buf.Len()/FloatSize
		for _, d := range shape {
			if d != 0 && elems > limit/int(d) {
				return nil, fmt.Errorf("checkpoint: tensor %d: shape %v runs past end of data: %w", i, shape, ErrCorruptCheckpoint)
			}
			elems *= int(d)
		}

		t := NewTensor(a, shape...)
		if err := binary.Read(buf, binary.LittleEndian, t.Data); err != nil {
			return nil, fmt.Errorf("checkpoint: tensor %d: %w", i, err)
		}
		tensors = append(tensors, t)
	}

	if buf.Len() != 0 {
		return nil, fmt.Errorf("checkpoint: %d trailing bytes: %w", buf.Len(), ErrCorruptCheckpoint)
	}
	return tensors, nil
}

// RestoreCheckpoint copies the tensors in r into dst, which must match them in
// number and shape.
func RestoreCheckpoint(r io.Reader, dst ...*Tensor) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	// Records are never smaller than their data, so len(data) plus alignment
	// slack bounds the arena.
	a := NewArena(uintptr(len(data) + (len(dst)+1)*CacheLineSize))
	saved, err := ReadCheckpoint(bytes.NewReader(data), a)
	if err != nil {
		return err
	}
	if len(saved) != len(dst) {
		return fmt.Errorf("checkpoint: holds %d tensors, want %d: %w", len(saved), len(dst), ErrShapeMismatch)
	}

	for i, t := range dst {
		if !t.SameShape(saved[i]) {
			return fmt.Errorf("checkpoint: tensor %d has shape %v, want %v: %w", i, saved[i].Dims(), t.Dims(), ErrShapeMismatch)
		}
	}
	for i, t := range dst {
		copy(t.Data, saved[i].Data)
	}
	return nil
}

func readCheckpointBody(r io.Reader) ([]byte, int, error) {
	var header CheckpointHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("checkpoint: header: %w", errors.Join(err, ErrCorruptCheckpoint))
	}
	if header.Magic != CheckpointMagic {
		return nil, 0, fmt.Errorf("checkpoint: invalid magic number %#x: %w", header.Magic, ErrCorruptCheckpoint)
	}
	if header.Version != CheckpointVersion {
		return nil, 0, fmt.Errorf("checkpoint: unsupported version %d: %w", header.Version, ErrCorruptCheckpoint)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if crc32.ChecksumIEEE(body) != header.Checksum {
		return nil, 0, fmt.Errorf("checkpoint: checksum mismatch: %w", ErrCorruptCheckpoint)
	}
	if int64(header.Count) > int64(len(body)/minRecordSize) {
		return nil, 0, fmt.Errorf("checkpoint: %d records cannot fit in %d bytes: %w", header.Count, len(body), ErrCorruptCheckpoint)
	}
	return body, int(header.Count), nil
}

func readShape(buf *bytes.Reader) ([]int64, error) {
	ndim, err := buf.ReadByte()
	if err != nil {
		return nil, ErrCorruptCheckpoint
	}
	if int(ndim) > MaxDims {
		return nil, fmt.Errorf("rank %d: %w", ndim, ErrCorruptCheckpoint)
	}

	shape := make([]int64, ndim)
	if err := binary.Read(buf, binary.LittleEndian, shape); err != nil {
		return nil, ErrCorruptCheckpoint
	}
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d: %w", d, ErrCorruptCheckpoint)
		}
	}
	return shape, nil
}
