package emulator

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"go.uber.org/zap"

	"github.com/zboralski/hatchery/internal/image"
)

// Clone returns a new emulator for the same target with every live region
// remapped and copied. Registers start from reset and hooks are not copied.
func (e *Emulator) Clone() (*Emulator, error) {
	return e.clone(false)
}

// CloneWithRegisters is Clone plus a copy of the general registers.
func (e *Emulator) CloneWithRegisters() (*Emulator, error) {
	return e.clone(true)
}

func (e *Emulator) clone(regs bool) (*Emulator, error) {
	if e.state == StateRunning {
		return nil, ErrRunning
	}
	regions, err := e.Regions()
	if err != nil {
		return nil, err
	}

	c, err := New(e.target, WithLogger(e.base))
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		data, err := e.Read(r.Begin, r.Size())
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := c.Map(r.Begin, r.Size(), r.Perm); err != nil {
			c.Close()
			return nil, err
		}
		if err := c.Write(r.Begin, data); err != nil {
			c.Close()
			return nil, err
		}
	}
	if e.stack != nil {
		s := *e.stack
		c.stack = &s
	}

	if regs {
		vals, err := e.GeneralRegisters()
		if err == nil {
			err = c.SetGeneralRegisters(vals)
		}
		if err != nil {
			c.Close()
			return nil, err
		}
	}

	e.log.Debug("cloned", zap.String("clone", c.id))
	return c, nil
}

// WriteableSnapshot copies every live writable region into an owned
// Segment, in address order.
func (e *Emulator) WriteableSnapshot() ([]image.Segment, error) {
	regions, err := e.Regions()
	if err != nil {
		return nil, err
	}
	var out []image.Segment
	for _, r := range regions {
		if !r.Perm.Has(image.PermWrite) {
			continue
		}
		data, err := e.Read(r.Begin, r.Size())
		if err != nil {
			return nil, err
		}
		out = append(out, image.Segment{
			Address: r.Begin,
			Size:    r.Size(),
			Perm:    r.Perm,
			Type:    image.SegLoad,
			Content: data,
		})
	}
	return out, nil
}

// FindStack returns the stack range. Emulators built from an image report
// the tagged stack segment; others fall back to the highest-based live
// region that is readable and writable.
func (e *Emulator) FindStack() (addr, size uint64, err error) {
	if e.stack != nil {
		return e.stack.Begin, e.stack.Size(), nil
	}
	regions, err := e.Regions()
	if err != nil {
		return 0, 0, err
	}
	var best *LiveRegion
	for i := range regions {
		r := &regions[i]
		if !r.Perm.Has(image.PermRead | image.PermWrite) {
			continue
		}
		if best == nil || r.Begin > best.Begin {
			best = r
		}
	}
	if best == nil {
		return 0, 0, ErrNoStack
	}
	return best.Begin, best.Size(), nil
}

// RiscWidth returns the instruction width of the live CPU mode: 4 in ARM
// state and 2 in Thumb state.
func (e *Emulator) RiscWidth() (int, error) {
	switch e.target.Arch {
	case ArchARM:
		mode, err := e.mu.Query(uc.QUERY_MODE)
		if err != nil {
			return 0, fmt.Errorf("%w: query: %w", ErrMode, err)
		}
		if mode&uc.MODE_THUMB != 0 {
			return 2, nil
		}
		return 4, nil
	case ArchMIPS:
		return 0, fmt.Errorf("%w: %s", ErrMode, e.target)
	}
	return 0, fmt.Errorf("%w: %s", ErrArchUnsupported, e.target)
}
