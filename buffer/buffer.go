// Package buffer is the boundary to the buffer import subsystem.
//
// Layers reference their content through an opaque [Handle]. The subsystem
// behind [Mapper] describes a handle (format, size, stride, protection) and
// maps it into a [DataBuffer] that a plane can scan out. Mapping may fail
// with [ErrNotReady] while content derived from the handle, such as a
// converted video frame, is still being produced.
package buffer

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/hwc/format"
)

// Handle is an opaque reference to a platform buffer.
// The zero Handle refers to no buffer.
type Handle uint64

// String formats the handle for logs.
func (h Handle) String() string {
	return fmt.Sprintf("buf#%d", uint64(h))
}

// Errors.
var (
	// ErrNotReady is returned when a buffer exists but cannot be presented yet.
	ErrNotReady = errors.New("buffer: not ready")

	// ErrUnknownHandle is returned for handles the mapper does not know.
	ErrUnknownHandle = errors.New("buffer: unknown handle")
)

// Info describes the memory behind a handle.
type Info struct {
	Format    format.PixelFormat
	Width     int
	Height    int
	Stride    int // bytes per row of the first plane
	Protected bool
}

// Bounds returns the buffer rectangle anchored at the origin.
func (i Info) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.Width, i.Height)
}

// DataBuffer is a mapped buffer ready to be bound to a plane.
type DataBuffer interface {
	Handle() Handle
	Info() Info
}

// ImageBuffer is implemented by data buffers whose pixels are reachable
// from the CPU. The software compositor samples them.
type ImageBuffer interface {
	DataBuffer
	Image() image.Image
}

// Fence is implemented by data buffers whose content can lag behind the
// mapping, such as a video frame still being converted. A plane checks
// Ready on every bind, including binds served from its mapping cache.
type Fence interface {
	Ready() bool
}

// Mapper describes and maps handles.
type Mapper interface {
	// Describe returns the attributes of h without mapping it.
	Describe(h Handle) (Info, error)

	// Map returns a data buffer for h. It returns an error wrapping
	// ErrNotReady when h cannot be presented yet.
	Map(h Handle) (DataBuffer, error)
}
