package hwc

import (
	"github.com/gogpu/gpucontext"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/hwc/layer"
	"github.com/gogpu/hwc/policy"
)

// Option configures a Device during creation.
//
// Example:
//
//	// Default gates and cache size
//	dev, err := hwc.Open("twin", hw, mapper)
//
//	// Start with overlays disabled and observe demotions
//	dev, err := hwc.Open("twin", hw, mapper,
//	    hwc.WithGates(policy.Gates{}),
//	    hwc.WithDemotionHook(onDemote))
type Option func(*options)

// options holds optional configuration for Device creation.
type options struct {
	gates     policy.Gates
	cacheSize int
	provider  gpucontext.DeviceProvider
	hook      layer.DemotionHook
	interp    xdraw.Interpolator
}

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		gates:  policy.DefaultGates(),
		interp: xdraw.ApproxBiLinear,
	}
}

// WithGates sets the policy gates in effect until the first SetGates event.
// ProtectedPresent is recomputed from the layers of every frame and need
// not be set here.
func WithGates(g policy.Gates) Option {
	return func(o *options) {
		o.gates = g
	}
}

// WithBufferCache sets how many mapped buffers each plane remembers.
// Values below 1 select plane.DefaultCacheSize.
func WithBufferCache(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithDeviceProvider hands in the host's GPU device. Framebuffer targets
// created by [Display.NewTarget] then use the host surface format.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithDemotionHook installs fn on every display. It is called
// synchronously whenever a layer loses its plane.
func WithDemotionHook(fn layer.DemotionHook) Option {
	return func(o *options) {
		o.hook = fn
	}
}

// WithInterpolator selects the scaling filter of the software compositor
// behind [Display.Compose].
func WithInterpolator(i xdraw.Interpolator) Option {
	return func(o *options) {
		if i != nil {
			o.interp = i
		}
	}
}
