package cuckoo

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/wyfcoding/cuckoo/xerrors"
)

func TestAltIndexIsInvolution(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, buckets := range []uint64{1, 2, 64, 1 << 20, 1 << 40} {
		for _, bitsPerTag := range []uint{1, 8, 16, 32} {
			fp := newFingerprinter(murmur3Hash, 0, bitsPerTag, buckets)
			for i := 0; i < 2000; i++ {
				index := r.Uint64() & (buckets - 1)
				tag := r.Uint64()&fp.tagMask | 1
				alt := fp.altIndex(index, tag)
				if alt >= buckets {
					t.Fatalf("altIndex %d out of range for %d buckets", alt, buckets)
				}
				if back := fp.altIndex(alt, tag); back != index {
					t.Fatalf("altIndex(altIndex(%d, %d)) = %d (buckets=%d bits=%d)", index, tag, back, buckets, bitsPerTag)
				}
			}
		}
	}
}

func TestSplitRemapsZeroTag(t *testing.T) {
	fp := newFingerprinter(murmur3Hash, 0, 8, 16)
	index, tag := fp.split(0x0300)
	if tag != 1 {
		t.Errorf("zero tag should map to 1, got %d", tag)
	}
	if index != 3 {
		t.Errorf("index = %d, want 3", index)
	}
	index, tag = fp.split(0xf7ab)
	if tag != 0xab || index != 0x7 {
		t.Errorf("split(0xf7ab) = (%#x, %#x)", index, tag)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	for _, alg := range []HashAlgorithm{HashMurmur3, HashXXH64} {
		h, err := hashFor(alg)
		if err != nil {
			t.Fatalf("hashFor(%s): %v", alg, err)
		}
		fp := newFingerprinter(h, 7, 16, 1024)
		i1, t1, err := fp.derive(Text("aaaa"))
		if err != nil {
			t.Fatalf("derive: %v", err)
		}
		i2, t2, _ := fp.derive(Text("aaaa"))
		if i1 != i2 || t1 != t2 {
			t.Errorf("%s: derive not deterministic", alg)
		}
		if t1 == 0 || t1 > 0xffff || i1 >= 1024 {
			t.Errorf("%s: derive out of range: index=%d tag=%d", alg, i1, t1)
		}

		other := newFingerprinter(h, 8, 16, 1024)
		oi, ot, _ := other.derive(Text("aaaa"))
		if oi == i1 && ot == t1 {
			t.Errorf("%s: seed should change the fingerprint", alg)
		}
	}
}

func TestItemCanonicalization(t *testing.T) {
	fp := newFingerprinter(murmur3Hash, 0, 16, 1024)
	ia, ta, _ := fp.derive(Int(42))
	ib, tb, _ := fp.derive(Text("42"))
	if ia != ib || ta != tb {
		t.Errorf("Int(42) and Text(\"42\") should share a fingerprint")
	}
	ic, tc, _ := fp.derive(Bytes([]byte("42")))
	if ic != ia || tc != ta {
		t.Errorf("Bytes(\"42\") should share a fingerprint with Text(\"42\")")
	}

	if _, _, err := fp.derive(Item{}); !errors.Is(err, xerrors.ErrInvalidItemType) {
		t.Errorf("zero Item should be rejected, got %v", err)
	}
	if _, err := ItemOf(3.14); !errors.Is(err, xerrors.ErrInvalidItemType) {
		t.Errorf("float item should be rejected, got %v", err)
	}
	it, err := ItemOf(uint16(7))
	if err != nil || it.Kind() != KindInteger {
		t.Errorf("ItemOf(uint16) = %v, %v", it.Kind(), err)
	}
}

func TestUnknownHash(t *testing.T) {
	if _, err := hashFor("sha1"); !errors.Is(err, xerrors.ErrInvalidOptions) {
		t.Errorf("unknown hash should be rejected, got %v", err)
	}
}
