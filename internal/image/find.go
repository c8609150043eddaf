package image

// Find returns a copy of size bytes at addr from the baseline, without a
// live emulator. Segments are scanned in stored order and the last one
// whose aligned range contains addr wins, so overlapping segments resolve
// to the later header. ok is false when no segment contains addr or the
// range runs past the winning segment; a partial read is never returned.
func (m *MemImage) Find(addr, size uint64) (data []byte, ok bool) {
	seg := m.find(addr)
	if seg == nil {
		return nil, false
	}
	return seg.View(addr, size)
}

// SegmentAt returns a copy of the segment Find would read addr from.
func (m *MemImage) SegmentAt(addr uint64) (Segment, bool) {
	seg := m.find(addr)
	if seg == nil {
		return Segment{}, false
	}
	return seg.Clone(), true
}

func (m *MemImage) find(addr uint64) *Segment {
	var found *Segment
	for i := range m.segs {
		if m.segs[i].Contains(addr) {
			found = &m.segs[i]
		}
	}
	return found
}
