package emulator

import (
	"fmt"

	"github.com/zboralski/hatchery/internal/image"
)

// NewFromImage builds an emulator holding the baseline image: every Load
// segment mapped at its aligned bounds with its permissions and its bytes
// written at the segment address. On any error the instance is closed and
// nothing is returned.
func NewFromImage(t Target, img *image.MemImage, opts ...Option) (*Emulator, error) {
	e, err := New(t, opts...)
	if err != nil {
		return nil, err
	}

	err = img.Each(func(s *image.Segment) error {
		if err := e.Map(s.AlignedStart(), s.AlignedSize(), s.Perm); err != nil {
			return fmt.Errorf("segment %s: %w", s, err)
		}
		if len(s.Content) == 0 {
			return nil
		}
		if err := e.Write(s.Address, s.Content); err != nil {
			return fmt.Errorf("segment %s: %w", s, err)
		}
		return nil
	})
	if err != nil {
		e.Close()
		return nil, err
	}

	st := img.Stack()
	e.stack = &LiveRegion{Begin: st.AlignedStart(), End: st.AlignedEnd(), Perm: st.Perm}
	return e, nil
}
