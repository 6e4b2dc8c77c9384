package buffer

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/gogpu/hwc/format"
)

// MemoryMapper is a Mapper over CPU memory. It backs the simulator and
// tests, and lets callers mark individual buffers as not ready.
//
// MemoryMapper is safe for concurrent use.
type MemoryMapper struct {
	mu   sync.Mutex
	next Handle
	bufs map[Handle]*memoryBuffer
}

type memoryBuffer struct {
	handle   Handle
	info     Info
	img      image.Image
	notReady atomic.Bool
}

func (b *memoryBuffer) Handle() Handle     { return b.handle }
func (b *memoryBuffer) Info() Info         { return b.info }
func (b *memoryBuffer) Image() image.Image { return b.img }
func (b *memoryBuffer) Ready() bool        { return !b.notReady.Load() }

// NewMemoryMapper creates an empty mapper.
func NewMemoryMapper() *MemoryMapper {
	return &MemoryMapper{
		next: 1,
		bufs: make(map[Handle]*memoryBuffer),
	}
}

// Allocate creates a buffer described by info and returns its handle.
// A zero stride is derived from the width and format.
func (m *MemoryMapper) Allocate(info Info) (Handle, error) {
	if !info.Format.Valid() {
		return 0, fmt.Errorf("buffer: allocate: invalid format %v", info.Format)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return 0, fmt.Errorf("buffer: allocate: invalid size %dx%d", info.Width, info.Height)
	}
	if info.Stride == 0 {
		info.Stride = info.Width * info.Format.BytesPerPixel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.next
	m.next++
	m.bufs[h] = &memoryBuffer{
		handle: h,
		info:   info,
		img:    newImage(info),
	}
	return h, nil
}

// newImage backs a buffer with the closest stdlib image type.
func newImage(info Info) image.Image {
	r := info.Bounds()
	switch {
	case info.Format.IsPlanar(), info.Format.IsSemiPlanar():
		return image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
	case info.Format == format.YUY2:
		return image.NewYCbCr(r, image.YCbCrSubsampleRatio422)
	default:
		return image.NewRGBA(r)
	}
}

// SetReady marks h as presentable or not. Map fails with ErrNotReady while
// a buffer is not ready.
func (m *MemoryMapper) SetReady(h Handle, ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.bufs[h]; ok {
		b.notReady.Store(!ready)
	}
}

// Image returns the pixels behind h for the caller to fill.
func (m *MemoryMapper) Image(h Handle) (image.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bufs[h]
	if !ok {
		return nil, false
	}
	return b.img, true
}

// Free forgets h.
func (m *MemoryMapper) Free(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bufs, h)
}

// Describe implements Mapper.
func (m *MemoryMapper) Describe(h Handle) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bufs[h]
	if !ok {
		return Info{}, fmt.Errorf("buffer: describe %v: %w", h, ErrUnknownHandle)
	}
	return b.info, nil
}

// Map implements Mapper.
func (m *MemoryMapper) Map(h Handle) (DataBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bufs[h]
	if !ok {
		return nil, fmt.Errorf("buffer: map %v: %w", h, ErrUnknownHandle)
	}
	if b.notReady.Load() {
		return nil, fmt.Errorf("buffer: map %v: %w", h, ErrNotReady)
	}
	return b, nil
}
