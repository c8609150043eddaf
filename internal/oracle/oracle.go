// Package oracle is the process-wide context of a run: the binary, its
// baseline image (built once and shared), the target and the base seed.
// Everything a worker needs to get a fresh emulator goes through it.
package oracle

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"

	"github.com/zboralski/hatchery/internal/config"
	"github.com/zboralski/hatchery/internal/emulator"
	"github.com/zboralski/hatchery/internal/image"
	glog "github.com/zboralski/hatchery/internal/log"
	"github.com/zboralski/hatchery/internal/seed"
)

// Oracle caches the baseline image of one binary for the process lifetime.
// It is safe for concurrent use.
type Oracle struct {
	buf     []byte
	target  emulator.Target
	seed    seed.Seed
	imgOpts []image.Option
	log     *glog.Logger

	once sync.Once
	img  *image.MemImage
	err  error
}

// Option configures New.
type Option func(*Oracle)

// WithTarget sets the emulation target (default ARM).
func WithTarget(t emulator.Target) Option {
	return func(o *Oracle) { o.target = t }
}

// WithSeed sets the base seed.
func WithSeed(s seed.Seed) Option {
	return func(o *Oracle) { o.seed = append(seed.Seed(nil), s...) }
}

// WithImageOptions passes options through to image.Build.
func WithImageOptions(opts ...image.Option) Option {
	return func(o *Oracle) { o.imgOpts = append(o.imgOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *glog.Logger) Option {
	return func(o *Oracle) {
		if l != nil {
			o.log = l
		}
	}
}

// New wraps buf. The image is not built until first use.
func New(buf []byte, opts ...Option) *Oracle {
	o := &Oracle{
		buf:    buf,
		target: emulator.ARM,
		seed:   append(seed.Seed(nil), config.DefaultSeed...),
		log:    glog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FromConfig reads the configured binary and seed.
func FromConfig(cfg *config.Config, log *glog.Logger) (*Oracle, error) {
	t, err := cfg.Target()
	if err != nil {
		return nil, err
	}
	buf, err := cfg.ReadBinary()
	if err != nil {
		return nil, err
	}
	s, err := cfg.SeedWords()
	if err != nil {
		return nil, err
	}
	return New(buf,
		WithTarget(t),
		WithSeed(s),
		WithImageOptions(cfg.ImageOptions()...),
		WithLogger(log),
	), nil
}

// Image returns the baseline image, building it on the first call.
// Concurrent first callers block until the build finishes and then share
// the result; a build error is cached as well.
func (o *Oracle) Image() (*image.MemImage, error) {
	o.once.Do(func() {
		opts := append([]image.Option{image.WithLogger(o.log)}, o.imgOpts...)
		o.img, o.err = image.Build(o.buf, opts...)
		if o.err != nil {
			o.err = fmt.Errorf("build image: %w", o.err)
			return
		}
		o.log.Named("oracle").Debug("image built",
			zap.Int("segments", o.img.Len()),
			zap.Stringer("target", o.target))
	})
	return o.img, o.err
}

// Target returns the emulation target.
func (o *Oracle) Target() emulator.Target {
	return o.target
}

// Seed returns a copy of the base seed.
func (o *Oracle) Seed() seed.Seed {
	return append(seed.Seed(nil), o.seed...)
}

// Find reads size bytes at addr from the baseline without an emulator.
// ok is false when the range is not inside one image segment. A failed
// image build is returned as err, never as absence.
func (o *Oracle) Find(addr, size uint64) (data []byte, ok bool, err error) {
	img, err := o.Image()
	if err != nil {
		return nil, false, err
	}
	data, ok = img.Find(addr, size)
	return data, ok, nil
}

// NewEmulator returns a fresh emulator holding the baseline image, with SP
// at the top of the stack segment. The caller owns and closes it.
func (o *Oracle) NewEmulator(opts ...emulator.Option) (*emulator.Emulator, error) {
	img, err := o.Image()
	if err != nil {
		return nil, err
	}
	opts = append([]emulator.Option{emulator.WithLogger(o.log)}, opts...)
	e, err := emulator.NewFromImage(o.target, img, opts...)
	if err != nil {
		return nil, err
	}
	st := img.Stack()
	if err := e.SetStackPointer(st.Address + st.Size); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Derive returns the private generator for worker.
func (o *Oracle) Derive(worker int) *rand.Rand {
	return seed.Derive(o.seed, worker)
}
