package bpu_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oooriscsim/bpu"
	"github.com/sarchlab/oooriscsim/word"
)

func TestBPU(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "BPU Suite")
}

var _ = Describe("DirectionPredictor", func() {
	It("saturates at 3 on repeated taken and predicts taken", func() {
		p := bpu.NewDirectionPredictor(bpu.DirectionConfig{InitCounter: 2})
		for i := 0; i < 5; i++ {
			p.Update(0x100, true)
		}
		Expect(p.Counter(word.Word(0x100))).To(Equal(uint8(3)))
		Expect(p.Predict(word.Word(0x100))).To(BeTrue())
	})

	It("saturates at 0 on repeated not-taken and predicts not-taken", func() {
		p := bpu.NewDirectionPredictor(bpu.DirectionConfig{InitCounter: 1})
		for i := 0; i < 5; i++ {
			p.Update(0x100, false)
		}
		Expect(p.Counter(word.Word(0x100))).To(Equal(uint8(0)))
		Expect(p.Predict(word.Word(0x100))).To(BeFalse())
	})

	It("isolates counters per PC when advanced", func() {
		p := bpu.NewDirectionPredictor(bpu.DirectionConfig{Advanced: true, IndexBits: 4, InitCounter: 0})
		p.Update(0x10, true)
		p.Update(0x10, true)
		Expect(p.Predict(word.Word(0x10))).To(BeTrue())
		Expect(p.Predict(word.Word(0x20))).To(BeFalse())
	})

	It("shares one counter across all PCs when simple", func() {
		p := bpu.NewDirectionPredictor(bpu.DirectionConfig{Advanced: false, InitCounter: 0})
		p.Update(0x10, true)
		p.Update(0x10, true)
		Expect(p.Predict(word.Word(0x9999))).To(BeTrue())
	})
})

var _ = Describe("BTB", func() {
	It("predicts pc+4 on a cold entry", func() {
		b := bpu.NewBTB(bpu.BTBConfig{IndexBits: 4})
		Expect(b.Predict(word.Word(0x40))).To(Equal(word.Word(0x44)))
	})

	It("predicts the cached target after an update", func() {
		b := bpu.NewBTB(bpu.BTBConfig{IndexBits: 4})
		b.Update(0x40, 0x1000)
		Expect(b.Predict(word.Word(0x40))).To(Equal(word.Word(0x1000)))
	})
})

var _ = Describe("RSB", func() {
	const ra, t0, sp = 1, 5, 2

	It("pushes on a direct jump whose link register is a return register", func() {
		r := bpu.NewRSB(8)
		_, ok := r.Handle(0x100, -1, ra)
		Expect(ok).To(BeFalse())
		Expect(r.Depth()).To(Equal(1))
	})

	It("is a no-op for a register jump with neither side a return register", func() {
		r := bpu.NewRSB(8)
		_, ok := r.Handle(0x100, sp, sp)
		Expect(ok).To(BeFalse())
		Expect(r.Depth()).To(Equal(0))
	})

	It("pops on a plain return (link not-ret, dest ret)", func() {
		r := bpu.NewRSB(8)
		r.Handle(0x100, -1, ra) // call: pushes 0x104
		target, ok := r.Handle(0x200, ra, sp)
		Expect(ok).To(BeTrue())
		Expect(target).To(Equal(word.Word(0x104)))
		Expect(r.Depth()).To(Equal(0))
	})

	It("pushes on a call through a register (link ret, dest not-ret)", func() {
		r := bpu.NewRSB(8)
		_, ok := r.Handle(0x100, sp, ra)
		Expect(ok).To(BeFalse())
		Expect(r.Depth()).To(Equal(1))
	})

	It("pops then pushes when both sides are return registers but differ", func() {
		r := bpu.NewRSB(8)
		r.Handle(0x100, -1, ra) // push 0x104
		target, ok := r.Handle(0x200, t0, ra)
		Expect(ok).To(BeTrue())
		Expect(target).To(Equal(word.Word(0x104)))
		Expect(r.Depth()).To(Equal(1)) // pc+4 of 0x200 was pushed
	})

	It("only pushes when both sides are the same return register", func() {
		r := bpu.NewRSB(8)
		_, ok := r.Handle(0x100, ra, ra)
		Expect(ok).To(BeFalse())
		Expect(r.Depth()).To(Equal(1))
	})

	It("silently evicts the oldest entry on overflow", func() {
		r := bpu.NewRSB(2)
		r.Handle(0x100, -1, ra) // push 0x104
		r.Handle(0x200, -1, ra) // push 0x204
		r.Handle(0x300, -1, ra) // push 0x304, evicts 0x104
		target, ok := r.Handle(0x400, ra, sp)
		Expect(ok).To(BeTrue())
		Expect(target).To(Equal(word.Word(0x304)))
	})
})
