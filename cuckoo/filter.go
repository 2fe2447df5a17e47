// Package cuckoo 实现了以共享位空间为后端的布谷鸟过滤器。
//
// 过滤器自身不持有表数据：桶数组与牺牲槽全部编码在 bitstore.Store 中，
// 多个进程只要使用相同的参数与同一后端，就能协同读写同一个过滤器。
// 槽位写入依赖后端的区间级 CAS，因此并发插入不会互相覆盖。
package cuckoo

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/cuckoo/bitstore"
	"github.com/wyfcoding/cuckoo/logging"
	"github.com/wyfcoding/cuckoo/xerrors"
	"golang.org/x/sync/errgroup"
)

const (
	resultOK    = "ok"
	resultMiss  = "miss"
	resultError = "error"

	// contentionRetries 限制删除与牺牲槽回收在并发修改下的重读次数。
	contentionRetries = 3
)

// Filter 是一个布谷鸟过滤器句柄，可被多个 goroutine 并发使用。
type Filter struct {
	name       string
	store      bitstore.Store
	table      *table
	fp         fingerprinter
	victim     victimCell
	layout     layout
	bucketSize uint
	bitsPerTag uint
	maxKicks   int
	opTimeout  time.Duration

	count   atomic.Int64
	logger  *logging.Logger
	metrics *filterMetrics
}

// New 在 store 之上创建过滤器。参数非法时返回 ErrInvalidOptions。
func New(store bitstore.Store, opts Options) (*Filter, error) {
	if store == nil {
		return nil, xerrors.Derive(xerrors.ErrInvalidOptions, nil, "nil bit store")
	}
	opts.applyDefaults()
	l, err := opts.validate(store)
	if err != nil {
		return nil, err
	}
	h, _ := hashFor(opts.Hash)

	f := &Filter{
		name:  opts.Name,
		store: store,
		table: &table{
			store:       store,
			bucketCount: l.bucketCount,
			bucketSize:  opts.BucketSize,
			bitsPerTag:  opts.BitsPerTag,
		},
		fp:         newFingerprinter(h, opts.Seed, opts.BitsPerTag, l.bucketCount),
		victim:     newVictimCell(l, opts.BitsPerTag),
		layout:     l,
		bucketSize: opts.BucketSize,
		bitsPerTag: opts.BitsPerTag,
		maxKicks:   opts.MaxKicks,
		opTimeout:  opts.OpTimeout,
		logger:     opts.Logger.Named("cuckoo"),
		metrics:    newFilterMetrics(opts.Name, opts.Metrics),
	}

	f.logger.Info("cuckoo filter created",
		"filter", f.name,
		"buckets", l.bucketCount,
		"bucket_size", opts.BucketSize,
		"bits_per_tag", opts.BitsPerTag,
		"total_bits", l.totalBits(),
		"hash", string(opts.Hash),
		"expected_fp_rate", ExpectedFPRate(opts.BucketSize, opts.BitsPerTag))
	return f, nil
}

func (f *Filter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.opTimeout > 0 {
		return context.WithTimeout(ctx, f.opTimeout)
	}
	return ctx, func() {}
}

// storeErr 将后端与上下文错误归类为过滤器错误。
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return xerrors.Derive(xerrors.ErrOperationTimeout, err, "%s", op)
	}
	if _, ok := xerrors.FromError(err); ok {
		return err
	}
	return xerrors.Derive(xerrors.ErrStoreUnavailable, err, "%s", op)
}

func resultOf(ok bool, err error) string {
	switch {
	case err != nil:
		return resultError
	case ok:
		return resultOK
	default:
		return resultMiss
	}
}

func (f *Filter) incr(delta int64) {
	f.metrics.setItems(f.count.Add(delta))
}

// Put 插入元素，成功返回 true。
// 表与牺牲槽都已占满时返回 ErrCapacityExhausted：新元素未写入，
// 已有元素可能在桶间挪动过位置，但全部仍可查到。
func (f *Filter) Put(ctx context.Context, item Item) (ok bool, err error) {
	start := time.Now()
	defer func() { f.metrics.observe("put", start, resultOf(ok, err)) }()

	index, tag, err := f.fp.derive(item)
	if err != nil {
		return false, err
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	ok, err = f.put(ctx, index, tag)
	return ok, storeErr("put", err)
}

func (f *Filter) put(ctx context.Context, index, tag uint64) (bool, error) {
	// 牺牲槽被占用说明表已接近满载，先尝试把它放回表中
	occupied, err := f.rehomeVictim(ctx)
	if err != nil {
		return false, err
	}
	if occupied {
		return false, xerrors.Derive(xerrors.ErrCapacityExhausted, nil, "filter %s victim slot occupied", f.name)
	}

	alt := f.fp.altIndex(index, tag)
	for _, bucket := range [2]uint64{index, alt} {
		_, ok, err := f.table.insertAt(ctx, bucket, tag)
		if err != nil {
			return false, err
		}
		if ok {
			f.incr(1)
			f.metrics.observeKicks(0)
			return true, nil
		}
	}
	return f.relocate(ctx, index, alt, tag)
}

// step 是踢出路径上的一环：读取时 bucket 的 slot 槽存放着 tag。
type step struct {
	bucket uint64
	slot   uint
	tag    uint64
}

// relocate 反复寻找一条以空槽结尾的踢出路径，再沿路径搬移指纹，
// 为 tag 在候选桶中腾出位置。踢出预算耗尽时把 tag 本身放入牺牲槽。
func (f *Filter) relocate(ctx context.Context, index, alt, tag uint64) (bool, error) {
	budget, kicks := f.maxKicks, 0
	for budget > 0 {
		start := index
		if rand.IntN(2) == 1 {
			start = alt
		}
		path, dest, walked, found, err := f.findPath(ctx, start, budget)
		if err != nil {
			return false, err
		}
		budget -= max(walked, 1)
		kicks += walked
		if !found {
			break
		}
		done, err := f.applyPath(ctx, path, dest, tag)
		if err != nil {
			return false, err
		}
		if done {
			f.incr(1)
			f.metrics.observeKicks(kicks)
			f.logger.DebugContext(ctx, "put relocated tags", "filter", f.name, "kicks", kicks, "path", len(path))
			return true, nil
		}
	}
	f.metrics.observeKicks(kicks)

	installed, err := f.victim.install(ctx, f.store, victim{index: index, tag: tag})
	if err != nil {
		return false, err
	}
	if installed {
		f.incr(1)
		f.metrics.victimEvent("installed")
		f.logger.WarnContext(ctx, "kick limit reached, tag parked in victim slot", "filter", f.name, "bucket", index, "max_kicks", f.maxKicks)
		return true, nil
	}
	f.metrics.victimEvent("rejected")
	f.logger.WarnContext(ctx, "filter full, put rejected", "filter", f.name, "bucket", index, "max_kicks", f.maxKicks)
	return false, xerrors.Derive(xerrors.ErrCapacityExhausted, nil, "filter %s full after %d kicks", f.name, f.maxKicks)
}

// findPath 从 start 出发随机游走，每一步选中当前桶的一个随机槽，转到该槽指纹的另一候选桶，
// 直到遇到有空槽的桶（dest）或走满 budget 步。游走回到路径上已有的桶时截去环路。
// 路径只基于读取结果，不修改存储。
func (f *Filter) findPath(ctx context.Context, start uint64, budget int) (path []step, dest uint64, walked int, found bool, err error) {
	cur := start
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, walked, false, err
		}
		for k := range path {
			if path[k].bucket == cur {
				path = path[:k]
				break
			}
		}
		slots, err := f.table.readBucket(ctx, cur)
		if err != nil {
			return nil, 0, walked, false, err
		}
		if slices.Contains(slots, 0) {
			return path, cur, walked, true, nil
		}
		if walked == budget {
			return nil, 0, walked, false, nil
		}
		s := f.table.randomSlot()
		path = append(path, step{bucket: cur, slot: s, tag: slots[s]})
		cur = f.fp.altIndex(cur, slots[s])
		walked++
	}
}

// applyPath 从路径末端向前搬移：先把最后一个指纹复制进 dest 的空槽，
// 再用每个前驱指纹覆盖其后继的原位置，最后把 tag 写入路径起点。
// 每次覆盖之前被覆盖的指纹都已有一份副本，并发的 Contains 因此不会漏查。
// 返回 false 表示路径在读取后被并发修改，调用方应重新寻路。
func (f *Filter) applyPath(ctx context.Context, path []step, dest, tag uint64) (bool, error) {
	if len(path) == 0 {
		_, ok, err := f.table.insertAt(ctx, dest, tag)
		return ok, err
	}
	last := path[len(path)-1]
	slot, ok, err := f.table.insertAt(ctx, dest, last.tag)
	if err != nil || !ok {
		return false, err
	}
	copied := step{bucket: dest, slot: slot, tag: last.tag}
	for j := len(path) - 1; j >= 0; j-- {
		next := tag
		if j > 0 {
			next = path[j-1].tag
		}
		ok, err := f.table.swapSlot(ctx, path[j].bucket, path[j].slot, path[j].tag, next)
		if err != nil {
			// 副本保留在原处，最多带来一次误判
			return false, err
		}
		if !ok {
			f.undoCopy(ctx, copied)
			return false, nil
		}
		copied = step{bucket: path[j].bucket, slot: path[j].slot, tag: next}
	}
	return true, nil
}

// undoCopy 清除一份源位置已被并发改写的副本。只清除本次写入的那个槽，
// 槽位已被他人改写时保持原状。
func (f *Filter) undoCopy(ctx context.Context, at step) {
	ok, err := f.table.swapSlot(context.WithoutCancel(ctx), at.bucket, at.slot, at.tag, 0)
	if err != nil {
		f.logger.WarnContext(ctx, "duplicate tag left after interrupted move", "filter", f.name, "bucket", at.bucket, "error", err)
		return
	}
	if !ok {
		f.logger.DebugContext(ctx, "copied tag already moved on", "filter", f.name, "bucket", at.bucket)
	}
}

// rehomeVictim 尝试把牺牲槽中的指纹放回桶中，返回牺牲槽此后是否仍被占用。
func (f *Filter) rehomeVictim(ctx context.Context) (bool, error) {
	for attempt := 0; attempt < contentionRetries; attempt++ {
		raw, err := f.victim.load(ctx, f.store)
		if err != nil {
			return false, err
		}
		v, occupied := f.victim.decode(raw)
		if !occupied {
			return false, nil
		}
		placed, raced, err := f.moveVictim(ctx, v, raw)
		if err != nil {
			return false, err
		}
		if placed {
			return false, nil
		}
		if !raced {
			return true, nil
		}
	}
	return true, nil
}

// moveVictim 先把牺牲槽中的指纹复制进候选桶，再清空牺牲槽。
// 牺牲槽在此期间被他人改写时撤销副本并报告 raced；两个候选桶都没有空位时 placed 与 raced 均为 false。
func (f *Filter) moveVictim(ctx context.Context, v victim, raw uint64) (placed, raced bool, err error) {
	for _, bucket := range [2]uint64{v.index, f.fp.altIndex(v.index, v.tag)} {
		slot, ok, err := f.table.insertAt(ctx, bucket, v.tag)
		if err != nil {
			return false, false, err
		}
		if !ok {
			continue
		}
		taken, err := f.victim.take(ctx, f.store, raw)
		if err != nil {
			return false, false, err
		}
		if !taken {
			f.undoCopy(ctx, step{bucket: bucket, slot: slot, tag: v.tag})
			return false, true, nil
		}
		f.metrics.victimEvent("rehomed")
		f.logger.DebugContext(ctx, "victim tag moved back into table", "filter", f.name, "bucket", bucket)
		return true, false, nil
	}
	return false, false, nil
}

// Contains 判断元素是否可能存在。返回 false 时元素一定不在过滤器中。
func (f *Filter) Contains(ctx context.Context, item Item) (found bool, err error) {
	start := time.Now()
	defer func() { f.metrics.observe("contains", start, resultOf(found, err)) }()

	index, tag, err := f.fp.derive(item)
	if err != nil {
		return false, err
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	// 两个候选桶与牺牲槽在同一次快照读取中取得，搬移中的指纹至少出现在其中一处
	alt := f.fp.altIndex(index, tag)
	ranges := append(f.table.slotRanges(index, alt), f.victim.rng)
	vals, err := readRanges(ctx, f.store, ranges)
	if err != nil {
		return false, storeErr("contains", err)
	}
	for _, v := range vals[:len(vals)-1] {
		if v == tag {
			return true, nil
		}
	}
	if v, ok := f.victim.decode(vals[len(vals)-1]); ok && v.matches(tag, index, alt) {
		return true, nil
	}
	return false, nil
}

// Delete 删除元素的一个副本，元素不存在时返回 false。
// 只应删除确实插入过的元素，否则可能误删指纹相同的其它元素。
func (f *Filter) Delete(ctx context.Context, item Item) (deleted bool, err error) {
	start := time.Now()
	defer func() { f.metrics.observe("delete", start, resultOf(deleted, err)) }()

	index, tag, err := f.fp.derive(item)
	if err != nil {
		return false, err
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	deleted, err = f.delete(ctx, index, tag)
	return deleted, storeErr("delete", err)
}

func (f *Filter) delete(ctx context.Context, index, tag uint64) (bool, error) {
	alt := f.fp.altIndex(index, tag)
	ranges := append(f.table.slotRanges(index, alt), f.victim.rng)
	slots := ranges[:len(ranges)-1]

	for attempt := 0; attempt < contentionRetries; attempt++ {
		vals, err := readRanges(ctx, f.store, ranges)
		if err != nil {
			return false, err
		}
		matched := false
		for i, r := range slots {
			if vals[i] != tag {
				continue
			}
			matched = true
			ok, err := f.store.CompareAndSwap(ctx, r, tag, 0)
			if err != nil {
				return false, err
			}
			if ok {
				f.incr(-1)
				// 腾出了空位，顺带尝试回收牺牲槽，失败不影响删除结果
				if _, err := f.rehomeVictim(ctx); err != nil {
					f.logger.WarnContext(ctx, "victim rehome after delete failed", "filter", f.name, "error", err)
				}
				return true, nil
			}
		}

		raw := vals[len(vals)-1]
		if v, occupied := f.victim.decode(raw); occupied && v.matches(tag, index, alt) {
			matched = true
			taken, err := f.victim.take(ctx, f.store, raw)
			if err != nil {
				return false, err
			}
			if taken {
				f.incr(-1)
				return true, nil
			}
		}
		if !matched {
			return false, nil
		}
		// 匹配的槽位在读取后被并发改写，重新读取
	}
	return false, nil
}

// Size 返回本句柄观察到的元素数量：成功的 Put 计一次，成功的 Delete 减一次。
// 计数只在进程内维护，其它句柄对同一后端的写入不会反映在这里。
func (f *Filter) Size() int64 {
	return f.count.Load()
}

// Reset 清空后端位空间与计数。
func (f *Filter) Reset(ctx context.Context) error {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	if err := f.store.Clear(ctx); err != nil {
		return storeErr("reset", err)
	}
	f.count.Store(0)
	f.metrics.setItems(0)
	f.logger.InfoContext(ctx, "cuckoo filter reset", "filter", f.name)
	return nil
}

// PutMany 以最多 concurrency 个并发插入 items，结果与 items 一一对应。
// 任一元素失败时返回第一个错误，其余已提交的插入照常完成。
func (f *Filter) PutMany(ctx context.Context, items []Item, concurrency int) ([]bool, error) {
	return f.batch(ctx, items, concurrency, f.Put)
}

// ContainsMany 以最多 concurrency 个并发查询 items。
func (f *Filter) ContainsMany(ctx context.Context, items []Item, concurrency int) ([]bool, error) {
	return f.batch(ctx, items, concurrency, f.Contains)
}

func (f *Filter) batch(ctx context.Context, items []Item, concurrency int, op func(context.Context, Item) (bool, error)) ([]bool, error) {
	out := make([]bool, len(items))
	g := new(errgroup.Group)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, item := range items {
		g.Go(func() error {
			ok, err := op(ctx, item)
			out[i] = ok
			return err
		})
	}
	return out, g.Wait()
}

// Stats 描述过滤器的布局与当前状态。
type Stats struct {
	Name           string  `json:"name"`
	BucketCount    uint64  `json:"bucket_count"`
	BucketSize     uint    `json:"bucket_size"`
	BitsPerTag     uint    `json:"bits_per_tag"`
	TotalBits      uint64  `json:"total_bits"`
	Capacity       uint64  `json:"capacity"`
	Items          int64   `json:"items"`
	Load           float64 `json:"load"`
	VictimOccupied bool    `json:"victim_occupied"`
	ExpectedFPRate float64 `json:"expected_fp_rate"`
}

// Stats 返回布局信息、句柄计数以及牺牲槽是否被占用。
func (f *Filter) Stats(ctx context.Context) (Stats, error) {
	capacity := f.layout.bucketCount * uint64(f.bucketSize)
	st := Stats{
		Name:           f.name,
		BucketCount:    f.layout.bucketCount,
		BucketSize:     f.bucketSize,
		BitsPerTag:     f.bitsPerTag,
		TotalBits:      f.layout.totalBits(),
		Capacity:       capacity,
		Items:          f.Size(),
		Load:           float64(f.Size()) / float64(capacity),
		ExpectedFPRate: ExpectedFPRate(f.bucketSize, f.bitsPerTag),
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	raw, err := f.victim.load(ctx, f.store)
	if err != nil {
		return st, storeErr("stats", err)
	}
	_, st.VictimOccupied = f.victim.decode(raw)
	return st, nil
}

// LogValue 实现 slog.LogValuer。
func (f *Filter) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", f.name),
		slog.Uint64("buckets", f.layout.bucketCount),
		slog.Int64("items", f.Size()),
	)
}
