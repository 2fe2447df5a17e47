package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/wyfcoding/cuckoo/cuckoo"
	"golang.org/x/time/rate"
)

type benchOptions struct {
	N           int
	Concurrency int
	QPS         float64
	Prefix      string
}

type benchResult struct {
	Inserted       int64
	Failed         int64
	FalseNegatives int64
	FalsePositives int64
	Queries        int64
	PutElapsed     time.Duration
	QueryElapsed   time.Duration
}

func parseBenchFlags(args []string, stderr io.Writer) (benchOptions, error) {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o benchOptions
	fs.IntVar(&o.N, "n", 10000, "number of items to insert")
	fs.IntVar(&o.Concurrency, "c", 16, "concurrent workers")
	fs.Float64Var(&o.QPS, "qps", 0, "operation rate limit, 0 for unlimited")
	fs.StringVar(&o.Prefix, "prefix", "bench", "item prefix")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	return o, nil
}

// runBench 先并发插入 N 个元素，再查询这些元素与 N 个未插入的元素，统计漏判与误判。
func runBench(ctx context.Context, f *cuckoo.Filter, o benchOptions) (benchResult, error) {
	var res benchResult
	var limiter *rate.Limiter
	if o.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.QPS), o.Concurrency)
	}

	phase := func(n int, fn func(ctx context.Context, i int) error) error {
		p := pool.New().WithContext(ctx).WithMaxGoroutines(o.Concurrency)
		for i := 0; i < n; i++ {
			p.Go(func(ctx context.Context) error {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return err
					}
				}
				return fn(ctx, i)
			})
		}
		return p.Wait()
	}

	var inserted, failed, fn, fp atomic.Int64
	stored := make([]atomic.Bool, o.N)
	start := time.Now()
	err := phase(o.N, func(ctx context.Context, i int) error {
		ok, err := f.Put(ctx, cuckoo.Text(fmt.Sprintf("%s-%d", o.Prefix, i)))
		if err != nil || !ok {
			failed.Add(1)
			return nil
		}
		inserted.Add(1)
		stored[i].Store(true)
		return nil
	})
	res.PutElapsed = time.Since(start)
	res.Inserted, res.Failed = inserted.Load(), failed.Load()
	if err != nil {
		return res, err
	}

	start = time.Now()
	err = phase(2*o.N, func(ctx context.Context, i int) error {
		member := i < o.N
		key := fmt.Sprintf("%s-%d", o.Prefix, i)
		if !member {
			key = fmt.Sprintf("%s-absent-%d", o.Prefix, i-o.N)
		}
		ok, err := f.Contains(ctx, cuckoo.Text(key))
		if err != nil {
			return err
		}
		switch {
		case member && !ok && stored[i].Load():
			fn.Add(1)
		case !member && ok:
			fp.Add(1)
		}
		return nil
	})
	res.QueryElapsed = time.Since(start)
	res.FalseNegatives, res.FalsePositives, res.Queries = fn.Load(), fp.Load(), int64(o.N)
	return res, err
}

func perSecond(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func (r benchResult) print(w io.Writer) {
	fmt.Fprintf(w, "put:      %d ok, %d failed in %v (%.0f ops/s)\n",
		r.Inserted, r.Failed, r.PutElapsed.Round(time.Millisecond), perSecond(r.Inserted+r.Failed, r.PutElapsed))
	fmt.Fprintf(w, "contains: %d lookups in %v (%.0f ops/s)\n",
		2*r.Queries, r.QueryElapsed.Round(time.Millisecond), perSecond(2*r.Queries, r.QueryElapsed))
	fpRate := 0.0
	if r.Queries > 0 {
		fpRate = float64(r.FalsePositives) / float64(r.Queries)
	}
	fmt.Fprintf(w, "false negatives: %d, false positives: %d (%.6f)\n", r.FalseNegatives, r.FalsePositives, fpRate)
}
