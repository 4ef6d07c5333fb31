package cache_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/oooriscsim/cache"
	"github.com/sarchlab/oooriscsim/word"
)

func TestCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cache Suite")
}

func smallLRU() *cache.Cache {
	c, err := cache.New(cache.Config{
		NumSets: 4, NumWays: 2, LineSize: 4,
		Policy: cache.LRU, HitCycles: 1, MissCycles: 10,
	})
	Expect(err).NotTo(HaveOccurred())
	return c
}

var _ = Describe("Cache", func() {
	It("rejects a non-power-of-two set count", func() {
		_, err := cache.New(cache.Config{NumSets: 3, NumWays: 2, LineSize: 4})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an address space too small for a tag", func() {
		_, err := cache.New(cache.Config{NumSets: 1 << 20, NumWays: 1, LineSize: 1 << 20})
		Expect(err).To(HaveOccurred())
	})

	It("misses on a cold line and reports no data", func() {
		c := smallLRU()
		_, hit := c.Read(0x1000, true)
		Expect(hit).To(BeFalse())
		Expect(c.Stats().Misses).To(Equal(uint64(1)))
	})

	It("hits after a write fills the line", func() {
		c := smallLRU()
		c.Write(0x1000, 0xAB, true)
		v, hit := c.Read(0x1000, true)
		Expect(hit).To(BeTrue())
		Expect(v).To(Equal(byte(0xAB)))
	})

	It("does not disturb LRU order on a side-effect-free read", func() {
		c, _ := cache.New(cache.Config{NumSets: 1, NumWays: 2, LineSize: 4, Policy: cache.LRU})
		c.Write(0, 1, true)
		c.Write(4, 2, true) // same set (only one set exists), second way
		// Side-effect-free touches of way 0 must not save it from eviction.
		c.Read(0, false)
		c.Write(8, 3, true) // forces an eviction in this 2-way set
		_, hit0 := c.Read(0, true)
		Expect(hit0).To(BeFalse())
	})

	It("evicts the oldest line under FIFO regardless of later reads", func() {
		c, _ := cache.New(cache.Config{NumSets: 1, NumWays: 2, LineSize: 4, Policy: cache.FIFO})
		c.Write(0, 1, true)
		c.Write(4, 2, true)
		// Touching address 0 would save it under LRU, but not under FIFO.
		c.Read(0, true)
		c.Write(8, 3, true)
		_, hit0 := c.Read(0, true)
		Expect(hit0).To(BeFalse())
		v4, hit4 := c.Read(4, true)
		Expect(hit4).To(BeTrue())
		Expect(v4).To(Equal(byte(2)))
		v8, hit8 := c.Read(8, true)
		Expect(hit8).To(BeTrue())
		Expect(v8).To(Equal(byte(3)))
	})

	It("reproduces the spec's LRU determinism scenario", func() {
		// 4 sets x 2 ways x 4-byte lines. Write(0), Write(17), Read(0), Write(33).
		c, err := cache.New(cache.Config{NumSets: 4, NumWays: 2, LineSize: 4, Policy: cache.LRU})
		Expect(err).NotTo(HaveOccurred())

		c.Write(0, 0, true)
		c.Write(17, 17, true)
		v0, hit0 := c.Read(0, true)
		Expect(hit0).To(BeTrue())
		Expect(v0).To(Equal(byte(0)))

		c.Write(33, 33, true)

		v0again, hit0again := c.Read(0, true)
		Expect(hit0again).To(BeTrue())
		Expect(v0again).To(Equal(byte(0)))

		_, hit17 := c.Read(17, true)
		Expect(hit17).To(BeFalse())

		v33, hit33 := c.Read(33, true)
		Expect(hit33).To(BeTrue())
		Expect(v33).To(Equal(byte(33)))
	})

	It("invalidates on flush", func() {
		c := smallLRU()
		c.Write(0x1000, 1, true)
		c.Flush(0x1000)
		_, hit := c.Read(0x1000, true)
		Expect(hit).To(BeFalse())
	})

	It("invalidates everything on flush_all", func() {
		c := smallLRU()
		c.Write(0, 1, true)
		c.Write(1<<10, 2, true)
		c.FlushAll()
		Expect(c.IsCached(word.Word(0))).To(BeFalse())
		Expect(c.IsCached(word.Word(1 << 10))).To(BeFalse())
	})
})
