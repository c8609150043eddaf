package oracle_test

import (
	"debug/elf"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zboralski/hatchery/internal/config"
	"github.com/zboralski/hatchery/internal/elftest"
	"github.com/zboralski/hatchery/internal/emulator"
	"github.com/zboralski/hatchery/internal/image"
	"github.com/zboralski/hatchery/internal/oracle"
	"github.com/zboralski/hatchery/internal/seed"
)

var addCode = []byte{
	0x05, 0x00, 0xa0, 0xe3, // MOV R0, #5
	0x03, 0x10, 0xa0, 0xe3, // MOV R1, #3
	0x01, 0x20, 0x80, 0xe0, // ADD R2, R0, R1
}

func armBinary() []byte {
	return elftest.ARM().
		Load(0x10000, 0x20, elf.PF_R|elf.PF_X).
		Code(".text", 0x10000, addCode).
		Bytes()
}

var _ = Describe("Image", func() {
	It("is built once and shared by concurrent callers", func() {
		o := oracle.New(armBinary())

		const n = 32
		imgs := make([]*image.MemImage, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				imgs[i], errs[i] = o.Image()
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			Expect(errs[i]).NotTo(HaveOccurred())
			Expect(imgs[i]).To(BeIdenticalTo(imgs[0]))
		}
	})

	It("caches a build error", func() {
		o := oracle.New([]byte("not an elf"))
		_, err1 := o.Image()
		_, err2 := o.Image()
		Expect(err1).To(MatchError(image.ErrFormat))
		Expect(err2).To(BeIdenticalTo(err1))

		_, err := o.NewEmulator()
		Expect(err).To(MatchError(image.ErrFormat))
	})
})

var _ = Describe("Find", func() {
	It("reads baseline bytes and reports absence outside the image", func() {
		o := oracle.New(armBinary())
		data, ok, err := o.Find(0x10000, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(data).To(Equal(addCode[:4]))

		data, ok, err = o.Find(0x20000, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(data).To(BeNil())
	})

	It("returns the build error instead of absence", func() {
		o := oracle.New([]byte("junk"))
		_, ok, err := o.Find(0x10000, 4)
		Expect(err).To(MatchError(image.ErrFormat))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("NewEmulator", func() {
	var o *oracle.Oracle

	BeforeEach(func() {
		o = oracle.New(armBinary())
	})

	It("presets SP to the top of the stack segment", func() {
		emu, err := o.NewEmulator()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(emu.Close)

		img, err := o.Image()
		Expect(err).NotTo(HaveOccurred())
		st := img.Stack()
		Expect(emu.StackPointer()).To(Equal(st.Address + st.Size))
	})

	It("hands out independent instances of the baseline", func() {
		emu, err := o.NewEmulator()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(emu.Close)

		reason, err := emu.Start(0x10000, 0x1000c, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(reason).To(Equal(emulator.StopBound))
		Expect(emu.Register("r2")).To(Equal(uint64(8)))

		other, err := o.NewEmulator()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(other.Close)
		Expect(other.Register("r2")).To(BeZero())
		Expect(other.ID()).NotTo(Equal(emu.ID()))
	})
})

var _ = Describe("Derive", func() {
	It("follows the base seed and separates workers", func() {
		base := seed.Seed{1, 2, 3}
		o := oracle.New(armBinary(), oracle.WithSeed(base))
		Expect(o.Derive(4).Uint64()).To(Equal(seed.Derive(base, 4).Uint64()))
		Expect(o.Derive(0).Uint64()).NotTo(Equal(o.Derive(1).Uint64()))
	})

	It("returns a copy of the seed", func() {
		o := oracle.New(armBinary(), oracle.WithSeed(seed.Seed{1}))
		s := o.Seed()
		s[0] = 99
		Expect(o.Seed()).To(Equal(seed.Seed{1}))
	})
})

var _ = Describe("FromConfig", func() {
	It("reads the binary, seed and image options", func() {
		dir := GinkgoT().TempDir()
		bin := filepath.Join(dir, "target.elf")
		Expect(os.WriteFile(bin, armBinary(), 0o644)).To(Succeed())

		cfg := config.Default()
		cfg.Binary = bin
		cfg.Seed = []string{"abc"}
		cfg.StackSize = 0x3000

		o, err := oracle.FromConfig(cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(o.Target()).To(Equal(emulator.ARM))
		Expect(o.Seed()).To(Equal(seed.Seed{0xabc}))

		img, err := o.Image()
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Stack().Size).To(Equal(uint64(0x3000)))
	})
})
