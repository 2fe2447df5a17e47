package cuckoo

import (
	"context"
	"testing"

	"github.com/wyfcoding/cuckoo/bitstore"
)

func TestTableSlotLayout(t *testing.T) {
	tb := &table{bucketCount: 8, bucketSize: 4, bitsPerTag: 16}
	r := tb.slotRange(3, 2)
	if r.Offset != 3*4*16+2*16 || r.Width != 16 {
		t.Errorf("slotRange(3, 2) = %+v", r)
	}
	ranges := tb.slotRanges(1)
	if len(ranges) != 4 || ranges[0].Offset != 64 || ranges[3].End() != 128 {
		t.Errorf("slotRanges(1) = %+v", ranges)
	}
	if both := tb.slotRanges(1, 5); len(both) != 8 || both[4] != tb.slotRange(5, 0) {
		t.Errorf("slotRanges(1, 5) = %+v", both)
	}
}

func TestTableInsertAt(t *testing.T) {
	ctx := context.Background()
	tb := &table{store: bitstore.NewMemoryStore(), bucketCount: 4, bucketSize: 2, bitsPerTag: 8}

	for want, tag := range []uint64{0x11, 0x22} {
		slot, ok, err := tb.insertAt(ctx, 1, tag)
		if err != nil || !ok || slot != uint(want) {
			t.Fatalf("insertAt(%#x) = %d, %v, %v", tag, slot, ok, err)
		}
	}
	if _, ok, _ := tb.insertAt(ctx, 1, 0x33); ok {
		t.Fatalf("insert into full bucket should fail")
	}
	if slots, _ := tb.readBucket(ctx, 0); slots[0] != 0 || slots[1] != 0 {
		t.Errorf("neighbouring bucket should be untouched, got %#x", slots)
	}

	if ok, _ := tb.swapSlot(ctx, 1, 0, 0x44, 0); ok {
		t.Errorf("swapSlot with stale tag should fail")
	}
	if ok, err := tb.swapSlot(ctx, 1, 0, 0x11, 0); err != nil || !ok {
		t.Fatalf("swapSlot(0x11 -> 0) = %v, %v", ok, err)
	}
	if slot, ok, _ := tb.insertAt(ctx, 1, 0x33); !ok || slot != 0 {
		t.Errorf("insert after clear = %d, %v, want slot 0", slot, ok)
	}
}

func TestTableRandomSlotInRange(t *testing.T) {
	tb := &table{bucketSize: 4}
	seen := make(map[uint]bool)
	for i := 0; i < 200; i++ {
		s := tb.randomSlot()
		if s >= 4 {
			t.Fatalf("randomSlot = %d", s)
		}
		seen[s] = true
	}
	if len(seen) != 4 {
		t.Errorf("randomSlot covered %v, want all four slots", seen)
	}
}
