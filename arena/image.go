package arena

import (
	"bytes"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
)

// Image is an executable buffer together with the arena tracking its free
// space. Data and Arena always have the same length and capacity.
type Image struct {
	Arena *Arena
	Name  string
	Data  []byte
	// Fill is written into bytes added by Extend.
	Fill byte
}

// NewImage wraps data in a fully used arena and donates the free spans.
func NewImage(name string, data []byte, free []Region, opts ...Option) (*Image, error) {
	img := &Image{
		Name:  name,
		Data:  data,
		Arena: NewUsed(len(data), opts...),
	}
	for _, r := range free {
		if err := img.Arena.Release(r.Offset, r.Length); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// Len returns the current image length.
func (img *Image) Len() int {
	return len(img.Data)
}

// Slice returns the n bytes at offset, aliasing the image.
func (img *Image) Slice(offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(img.Data) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, []string{img.Name}, offset+n, len(img.Data))
	}
	return img.Data[offset : offset+n], nil
}

// Write copies b into the image at offset.
func (img *Image) Write(offset int, b []byte) error {
	if offset < 0 || offset+len(b) > len(img.Data) {
		return errors.OutOfBounds(errors.PhaseEncode, []string{img.Name}, offset+len(b), len(img.Data))
	}
	copy(img.Data[offset:], b)
	return nil
}

// Extend grows the image by n bytes and registers them as free space.
func (img *Image) Extend(n int) int {
	off := img.Arena.Extend(n)
	if n > 0 {
		img.Data = append(img.Data, bytes.Repeat([]byte{img.Fill}, n)...)
		Logger().Info("image extended",
			zap.String("image", img.Name),
			zap.Int("offset", off),
			zap.Int("bytes", n))
	}
	return off
}

// Snapshot is a saved image state.
type Snapshot struct {
	arena *Arena
	data  []byte
}

// Snapshot captures the bytes and the arena.
func (img *Image) Snapshot() Snapshot {
	return Snapshot{data: slices.Clone(img.Data), arena: img.Arena.Clone()}
}

// Restore rolls the image back to s. A snapshot may be restored more than
// once.
func (img *Image) Restore(s Snapshot) {
	img.Data = slices.Clone(s.data)
	img.Arena = s.arena.Clone()
}
