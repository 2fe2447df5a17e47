package bitstore

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

const memoryStripes = 256

// MemoryStore 是进程内的稀疏位空间实现。
// 所有读写都按 64 位字所属的条带加锁，批量读取在持锁期间对每个字只加载一次，
// 因此 GetBits 返回的是一致快照，不会观察到写入到一半的区间。
type MemoryStore struct {
	words   sync.Map // uint64 -> *atomic.Uint64
	stripes [memoryStripes]sync.Mutex
}

// NewMemoryStore 创建一个空的进程内位空间。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) word(idx uint64, create bool) *atomic.Uint64 {
	if w, ok := s.words.Load(idx); ok {
		return w.(*atomic.Uint64)
	}
	if !create {
		return nil
	}
	w, _ := s.words.LoadOrStore(idx, new(atomic.Uint64))
	return w.(*atomic.Uint64)
}

// lock 锁住 idxs 涉及的全部条带。条带按序号升序加锁，避免交叉区间死锁。
func (s *MemoryStore) lock(idxs ...uint64) func() {
	stripes := make([]uint64, len(idxs))
	for i, idx := range idxs {
		stripes[i] = idx % memoryStripes
	}
	slices.Sort(stripes)
	stripes = slices.Compact(stripes)
	for _, st := range stripes {
		s.stripes[st].Lock()
	}
	return func() {
		for i := len(stripes) - 1; i >= 0; i-- {
			s.stripes[stripes[i]].Unlock()
		}
	}
}

// wordSpan 是区间落在单个字内的片段。
type wordSpan struct {
	idx   uint64
	shift uint // 片段在字内的起始位
	width uint
	pos   uint // 片段在区间值中的起始位
}

func spans(r Range) []wordSpan {
	out := make([]wordSpan, 0, 2)
	off, pos := r.Offset, uint(0)
	for pos < r.Width {
		shift := uint(off % 64)
		w := min(64-shift, r.Width-pos)
		out = append(out, wordSpan{idx: off / 64, shift: shift, width: w, pos: pos})
		off += uint64(w)
		pos += w
	}
	return out
}

func spanWords(sp []wordSpan) []uint64 {
	idxs := make([]uint64, len(sp))
	for i, p := range sp {
		idxs[i] = p.idx
	}
	return idxs
}

// read 读取区间值，调用方需持有对应条带锁。
func (s *MemoryStore) read(sp []wordSpan) uint64 {
	var v uint64
	for _, p := range sp {
		w := s.word(p.idx, false)
		if w == nil {
			continue
		}
		v |= (w.Load() >> p.shift & mask(p.width)) << p.pos
	}
	return v
}

// write 按字整体写入区间值，调用方需持有对应条带锁。
func (s *MemoryStore) write(sp []wordSpan, v uint64) {
	for _, p := range sp {
		part := v >> p.pos & mask(p.width)
		w := s.word(p.idx, part != 0)
		if w == nil {
			continue
		}
		m := mask(p.width) << p.shift
		w.Store(w.Load()&^m | part<<p.shift)
	}
}

// GetBits 实现 Store。
func (s *MemoryStore) GetBits(ctx context.Context, offsets []uint64) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idxs := make([]uint64, len(offsets))
	for i, off := range offsets {
		idxs[i] = off / 64
	}
	snapshot := make(map[uint64]uint64, len(idxs))
	unlock := s.lock(idxs...)
	for _, idx := range idxs {
		if _, ok := snapshot[idx]; ok {
			continue
		}
		var v uint64
		if w := s.word(idx, false); w != nil {
			v = w.Load()
		}
		snapshot[idx] = v
	}
	unlock()

	out := make([]bool, len(offsets))
	for i, off := range offsets {
		out[i] = snapshot[off/64]&(1<<(off%64)) != 0
	}
	return out, nil
}

// SetBits 实现 Store。同一批次内的全部位在同一临界区内写入。
func (s *MemoryStore) SetBits(ctx context.Context, offsets []uint64, value bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	masks := make(map[uint64]uint64)
	idxs := make([]uint64, 0, len(offsets))
	for _, off := range offsets {
		idx := off / 64
		if _, ok := masks[idx]; !ok {
			idxs = append(idxs, idx)
		}
		masks[idx] |= 1 << (off % 64)
	}
	unlock := s.lock(idxs...)
	defer unlock()

	for idx, m := range masks {
		w := s.word(idx, value)
		if w == nil {
			continue
		}
		if value {
			w.Store(w.Load() | m)
		} else {
			w.Store(w.Load() &^ m)
		}
	}
	return nil
}

// CompareAndSwap 实现 Store。
func (s *MemoryStore) CompareAndSwap(ctx context.Context, r Range, old, new uint64) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sp := spans(r)
	unlock := s.lock(spanWords(sp)...)
	defer unlock()

	if s.read(sp) != old&mask(r.Width) {
		return false, nil
	}
	s.write(sp, new)
	return true, nil
}

// Clear 实现 Store。
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range s.stripes {
		s.stripes[i].Lock()
	}
	defer func() {
		for i := len(s.stripes) - 1; i >= 0; i-- {
			s.stripes[i].Unlock()
		}
	}()
	s.words.Range(func(key, _ any) bool {
		s.words.Delete(key)
		return true
	})
	return nil
}
