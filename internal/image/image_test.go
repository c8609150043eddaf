package image_test

import (
	"debug/elf"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zboralski/hatchery/internal/elftest"
	"github.com/zboralski/hatchery/internal/image"
)

var code = []byte{0x05, 0x00, 0xa0, 0xe3} // mov r0, #5

func armOneSegment() []byte {
	return elftest.ARM().
		Load(0x10000, 0x20, elf.PF_R|elf.PF_X).
		Code(".text", 0x10000, code).
		Bytes()
}

var _ = Describe("Build", func() {
	It("rejects buffers that are not ELF", func() {
		_, err := image.Build([]byte("MZ\x90\x00 definitely not elf"))
		Expect(err).To(MatchError(image.ErrFormat))
	})

	Context("with one executable load segment", func() {
		var img *image.MemImage

		BeforeEach(func() {
			var err error
			img, err = image.Build(armOneSegment())
			Expect(err).NotTo(HaveOccurred())
		})

		It("lays out guard, code and stack", func() {
			segs := img.Segments()
			Expect(segs).To(HaveLen(3))

			guard, text, stack := segs[0], segs[1], segs[2]
			Expect(guard.Address).To(BeZero())
			Expect(guard.AlignedEnd()).To(Equal(uint64(0x2000)))
			Expect(guard.Perm).To(Equal(image.PermRead))

			Expect(text.AlignedStart()).To(Equal(uint64(0x10000)))
			Expect(text.AlignedEnd()).To(Equal(uint64(0x11000)))
			Expect(text.Perm).To(Equal(image.PermRead | image.PermExec))
			Expect(text.Content[:4]).To(Equal(code))

			Expect(stack.Address).To(Equal(uint64(0x11000)))
			Expect(stack.Size).To(Equal(uint64(image.DefaultStackSize)))
			Expect(stack.Perm).To(Equal(image.PermRead | image.PermWrite))
			Expect(img.Stack()).To(Equal(stack))
		})

		It("finds code bytes and reports absence elsewhere", func() {
			data, ok := img.Find(0x10000, 4)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(code))

			_, ok = img.Find(0x20000, 4)
			Expect(ok).To(BeFalse())
		})

		It("never returns a partial read", func() {
			text := img.Segments()[1]
			_, ok := img.Find(text.AlignedEnd()-2, 4)
			Expect(ok).To(BeFalse())

			data, ok := img.Find(text.AlignedEnd()-4, 4)
			Expect(ok).To(BeTrue())
			Expect(data).To(HaveLen(4))
		})

		It("reads alignment slack as zero", func() {
			data, ok := img.Find(0x10800, 8)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(make([]byte, 8)))
		})

		It("is idempotent", func() {
			again, err := image.Build(armOneSegment())
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Equal(again)).To(BeTrue())
		})

		It("keeps the image immutable through accessors", func() {
			segs := img.Segments()
			segs[1].Content[0] = 0xff
			data, _ := img.Find(0x10000, 1)
			Expect(data[0]).To(Equal(code[0]))
		})
	})

	Describe("alignment law", func() {
		It("holds for every segment", func() {
			buf := elftest.ARM().
				Load(0x10000, 0x5a4, elf.PF_R|elf.PF_X).
				Load(0x21f0c, 0x134, elf.PF_R|elf.PF_W).
				Load(0x40123, 0x1000, 0).
				Bytes()
			img, err := image.Build(buf)
			Expect(err).NotTo(HaveOccurred())

			var top uint64
			for i, s := range img.Segments() {
				Expect(s.AlignedStart() % image.PageSize).To(BeZero())
				Expect(s.AlignedEnd() % image.PageSize).To(BeZero())
				Expect(s.AlignedStart()).To(BeNumerically("<=", s.Address))
				Expect(s.AlignedEnd()).To(BeNumerically(">=", s.Address+s.Size+1))
				Expect(s.AlignedSize()).To(Equal(s.AlignedEnd() - s.AlignedStart()))
				if i < img.Len()-1 && s.AlignedEnd() > top {
					top = s.AlignedEnd()
				}
			}
			Expect(img.Stack().AlignedStart()).To(Equal(top))
		})

		It("has exactly one read-only page at address zero", func() {
			img, err := image.Build(armOneSegment())
			Expect(err).NotTo(HaveOccurred())

			n := 0
			for _, s := range img.Segments() {
				if s.Contains(0) {
					n++
					Expect(s.Perm).To(Equal(image.PermRead))
					Expect(s.Size).To(BeNumerically(">=", image.PageSize))
					Expect(s.Content).To(Equal(make([]byte, s.Size)))
				}
			}
			Expect(n).To(Equal(1))
		})
	})

	Describe("program headers", func() {
		It("maps permissions independently and records non-load headers", func() {
			buf := elftest.ARM().
				Load(0x10000, 0x100, 0).
				Header(elf.PT_GNU_STACK, 0, 0, elf.PF_R|elf.PF_W).
				Header(elf.ProgType(0x70000001), 0x10100, 0x8, elf.PF_R).
				Bytes()
			img, err := image.Build(buf)
			Expect(err).NotTo(HaveOccurred())

			Expect(img.Segments()[1].Perm).To(Equal(image.PermNone))
			hdrs := img.Headers()
			Expect(hdrs).To(HaveLen(2))
			Expect(hdrs[0].Type).To(Equal(image.SegGnuStack))
			Expect(hdrs[1].Type).To(Equal(image.SegOther))
			Expect(img.Len()).To(Equal(3))
		})

		It("honours a custom stack size", func() {
			img, err := image.Build(armOneSegment(), image.WithStackSize(0x4000))
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Stack().Size).To(Equal(uint64(0x4000)))
			Expect(img.Stack().Content).To(HaveLen(0x4000))
		})

		It("rounds the stack size up to whole pages", func() {
			img, err := image.Build(armOneSegment(), image.WithStackSize(0x1801))
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Stack().Size).To(Equal(uint64(0x2000)))
			Expect(img.Stack().AlignedEnd()).To(Equal(img.Stack().Address + 0x3000))
		})
	})

	Describe("sections", func() {
		orphan := func() []byte {
			return elftest.ARM().
				Load(0x10000, 0x20, elf.PF_R|elf.PF_X).
				Code(".text", 0x10000, code).
				Data(".orphan", 0x50000, []byte{1, 2, 3, 4}).
				Bytes()
		}

		It("drops sections outside every segment", func() {
			img, err := image.Build(orphan())
			Expect(err).NotTo(HaveOccurred())
			_, ok := img.Find(0x50000, 4)
			Expect(ok).To(BeFalse())
		})

		It("fails in strict mode", func() {
			_, err := image.Build(orphan(), image.WithStrictSections(true))
			Expect(err).To(MatchError(image.ErrUnplacedSection))
		})

		It("never writes into the guard page", func() {
			buf := elftest.ARM().
				Load(0x10000, 0x20, elf.PF_R|elf.PF_X).
				Section(elftest.Section{Name: ".comment", Type: elf.SHT_PROGBITS, Data: []byte("GCC: 9")}).
				Section(elftest.Section{Name: ".low", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Addr: 0x100, Data: []byte{9, 9}}).
				Bytes()
			img, err := image.Build(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Guard().Content).To(Equal(make([]byte, image.PageSize)))
		})

		It("clips section bytes at the end of the buffer", func() {
			buf := elftest.ARM().
				Load(0x10000, 0x200, elf.PF_R|elf.PF_X).
				Section(elftest.Section{
					Name:  ".text",
					Type:  elf.SHT_PROGBITS,
					Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
					Addr:  0x10000,
					Data:  code,
					Size:  0x100,
				}).
				Bytes()
			img, err := image.Build(buf)
			Expect(err).NotTo(HaveOccurred())

			data, ok := img.Find(0x10000, 8)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(append(append([]byte{}, code...), 0, 0, 0, 0)))
		})

		It("leaves NOBITS sections zeroed", func() {
			buf := elftest.ARM().
				Load(0x20000, 0x100, elf.PF_R|elf.PF_W).
				Section(elftest.Section{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: 0x20000, Size: 0x100}).
				Bytes()
			img, err := image.Build(buf)
			Expect(err).NotTo(HaveOccurred())
			data, ok := img.Find(0x20000, 0x100)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(make([]byte, 0x100)))
		})
	})

	Describe("overlapping segments", func() {
		It("resolves lookups to the last containing segment", func() {
			// Both aligned ranges cover 0x10000; the section lands in the
			// first, but lookup reads the second.
			buf := elftest.ARM().
				Load(0x10000, 0x100, elf.PF_R|elf.PF_X).
				Load(0x10800, 0x10, elf.PF_R|elf.PF_W).
				Code(".text", 0x10000, code).
				Bytes()
			img, err := image.Build(buf)
			Expect(err).NotTo(HaveOccurred())

			seg, ok := img.SegmentAt(0x10000)
			Expect(ok).To(BeTrue())
			Expect(seg.Address).To(Equal(uint64(0x10800)))

			data, ok := img.Find(0x10000, 4)
			Expect(ok).To(BeTrue())
			Expect(data).To(Equal(make([]byte, 4)))
		})
	})
})

var _ = Describe("Segment", func() {
	It("renders permissions", func() {
		Expect(image.PermNone.String()).To(Equal("---"))
		Expect((image.PermRead | image.PermExec).String()).To(Equal("r-x"))
		Expect(image.PermAll.String()).To(Equal("rwx"))
	})

	It("maps raw program types", func() {
		Expect(image.SegTypeFromProg(elf.PT_LOAD)).To(Equal(image.SegLoad))
		Expect(image.SegTypeFromProg(elf.PT_GNU_RELRO)).To(Equal(image.SegGnuRelRo))
		Expect(image.SegTypeFromProg(elf.PT_GNU_EH_FRAME)).To(Equal(image.SegGnuEhFrame))
		Expect(image.SegTypeFromProg(elf.ProgType(0x6fffffff))).To(Equal(image.SegOther))
	})

	It("formats its aligned range", func() {
		s := image.NewSegment(0x10010, 0x20, image.PermRead|image.PermExec, image.SegLoad)
		Expect(s.String()).To(Equal("[aligned 00010000 -- 00011000: r-x]"))
	})
})

var _ = Describe("Digest", func() {
	It("changes with content", func() {
		a := []image.Segment{image.NewSegment(0x1000, 4, image.PermRead|image.PermWrite, image.SegLoad)}
		b := []image.Segment{a[0].Clone()}
		Expect(image.Digest(a)).To(Equal(image.Digest(b)))

		b[0].Content[2] = 1
		Expect(image.Digest(a)).NotTo(Equal(image.Digest(b)))
	})
})
