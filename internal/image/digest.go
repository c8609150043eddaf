package image

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// Digest fingerprints a list of segments: address, size, permissions and
// content all contribute, in order. Two snapshots with equal digests are
// treated as the same post-execution state.
func Digest(segs []Segment) uint64 {
	h := xxhash.New64()
	var hdr [20]byte
	for i := range segs {
		s := &segs[i]
		binary.LittleEndian.PutUint64(hdr[0:], s.Address)
		binary.LittleEndian.PutUint64(hdr[8:], s.Size)
		binary.LittleEndian.PutUint32(hdr[16:], uint32(s.Perm))
		h.Write(hdr[:])
		h.Write(s.Content)
	}
	return h.Sum64()
}
