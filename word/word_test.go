package word_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oooriscsim/word"
)

func TestWord(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Word Suite")
}

var _ = Describe("Word arithmetic", func() {
	It("wraps addition modulo 2^32", func() {
		w := word.Word(0xFFFFFFFF).Add(word.Word(1))
		Expect(w).To(Equal(word.Word(0)))
	})

	It("round-trips through bytes", func() {
		w := word.Word(0xDEADBEEF)
		bs := w.AsBytes()
		Expect(word.FromBytes(bs[0], bs[1], bs[2], bs[3])).To(Equal(w))
	})

	It("agrees signed/unsigned comparison with Go's own int32/uint32", func() {
		a, b := word.Word(0x7FFFFFFF), word.Word(0x80000000)
		Expect(a.SignedLess(b)).To(Equal(a.Signed() < b.Signed()))
		Expect(a.UnsignedLess(b)).To(Equal(a.Unsigned() < b.Unsigned()))
	})

	DescribeTable("division by zero",
		func(a word.Word) {
			Expect(a.DivTrunc(0)).To(Equal(word.Word(0xFFFFFFFF)))
			Expect(a.RemTrunc(0)).To(Equal(a))
		},
		Entry("zero dividend", word.Word(0)),
		Entry("positive dividend", word.Word(42)),
		Entry("negative dividend", word.FromInt32(-7)),
	)

	It("handles signed_min / -1 as the M-extension defines it", func() {
		min := word.FromInt32(-1 << 31)
		Expect(min.DivTrunc(word.FromInt32(-1))).To(Equal(min))
		Expect(min.RemTrunc(word.FromInt32(-1))).To(Equal(word.Word(0)))
	})

	DescribeTable("div/rem satisfy the division law for non-zero divisors",
		func(a, b word.Word) {
			q := a.DivTrunc(b)
			r := a.RemTrunc(b)
			Expect(q.Mul(b).Add(r)).To(Equal(a))
		},
		Entry("10/3", word.Word(10), word.Word(3)),
		Entry("-10/3", word.FromInt32(-10), word.Word(3)),
		Entry("10/-3", word.Word(10), word.FromInt32(-3)),
		Entry("-10/-3", word.FromInt32(-10), word.FromInt32(-3)),
	)

	It("sign-extends and zero-extends a byte", func() {
		b := word.Byte(0x80)
		Expect(b.ZeroExtend()).To(Equal(word.Word(0x80)))
		Expect(b.SignExtend()).To(Equal(word.FromInt32(-128)))
	})
})
