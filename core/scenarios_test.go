package core_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/NVIDIA/rangecache/gcfilter"
	"github.com/NVIDIA/rangecache/keys"
	"github.com/NVIDIA/rangecache/region"
	"github.com/NVIDIA/rangecache/skiplist"
	"github.com/NVIDIA/rangecache/writerec"
)

func putAt(col *skiplist.Column, rawKey []byte, commitTS, seq uint64) {
	uk := keys.EncodeMvccUserKey(rawKey, commitTS)
	ik := keys.EncodeInternalKey(uk, seq, keys.Value)
	col.Insert(ik, writerec.Encode(writerec.Record{Type: writerec.Put, StartTS: commitTS}))
}

var _ = Describe("snapshot protection against GC (S2)", func() {
	It("defers filtering of a version until every snapshot that needs it is released", func() {
		write := skiplist.NewColumn()

		key1, key2, key3 := []byte("key1"), []byte("key2"), []byte("key3")
		putAt(write, key1, 10, 1)
		putAt(write, key1, 11, 2)
		putAt(write, key2, 15, 3)
		putAt(write, key2, 20, 4)
		putAt(write, key3, 25, 5)
		putAt(write, key3, 30, 6)

		mgr := region.NewManager(time.Minute)
		Expect(mgr.LoadRegion(1, 1, region.KeyRange{Start: []byte("key0"), End: []byte("key9")})).To(Succeed())
		Expect(mgr.MarkReadyToLoad(1)).To(Succeed())
		Expect(mgr.MutRegionMeta(1, func(m *region.Meta) error { m.State = region.Active; return nil })).To(Succeed())

		Expect(mgr.AcquireSnapshot(1, 10)).To(Succeed())
		Expect(mgr.AcquireSnapshot(1, 11)).To(Succeed())
		Expect(mgr.AcquireSnapshot(1, 20)).To(Succeed())

		runGc := func(requested uint64) gcfilter.Metrics {
			snap, ok := mgr.Get(1)
			Expect(ok).To(BeTrue())
			effective, shouldRun := gcfilter.EffectiveSafePoint(requested, mgr.MinActiveSnapshotTS(1), mgr.GetHistoryRegionsMinTS(snap.Range), snap.SafePoint)
			if !shouldRun {
				return gcfilter.Metrics{}
			}
			m := gcfilter.Run(write, nil, snap.Range.Start, snap.Range.End, effective, ^uint64(0))
			mgr.SetSafePoint(1, effective)
			return m
		}

		Expect(runGc(30).Filtered).To(Equal(0))

		mgr.ReleaseSnapshot(1, 10)
		Expect(runGc(30).Filtered).To(Equal(1))

		mgr.ReleaseSnapshot(1, 11)
		Expect(runGc(30).Filtered).To(Equal(1))

		mgr.ReleaseSnapshot(1, 20)
		Expect(runGc(30).Filtered).To(Equal(1))
	})
})
