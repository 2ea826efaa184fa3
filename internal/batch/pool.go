// Package batch runs many independent text units through an engine with a
// bounded worker pool. It also holds the CSV and plain-text document drivers.
//
// Every unit is isolated: a failure is recorded on its Item and never stops
// the rest. Cancelling the context stops work between units; units not yet
// started report the context error and pass through unchanged.
package batch

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"text-anonymizer/internal/anonymizer"
	"text-anonymizer/internal/entity"
	"text-anonymizer/internal/logger"
	"text-anonymizer/internal/metrics"
)

// Processor analyzes and anonymizes one text unit. *anonymizer.Engine
// implements it.
type Processor interface {
	Process(ctx context.Context, text string, verbose bool) (anonymizer.Result, error)
}

// Item is the outcome of one unit. Index is its position in the input.
type Item struct {
	Index  int
	Result anonymizer.Result
	Err    error
}

// Failed reports whether the unit hit an error other than an empty or
// invalid text.
func (it Item) Failed() bool {
	return it.Err != nil && !anonymizer.IsUnitError(it.Err)
}

// Pool bounds the number of units processed concurrently.
type Pool struct {
	workers int
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewPool returns a pool of the given size. workers <= 0 uses GOMAXPROCS.
// m and log may be nil.
func NewPool(workers int, m *metrics.Metrics, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pool{workers: workers, metrics: m, log: log}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.workers }

// Run processes texts and returns one Item per text, in input order.
func (p *Pool) Run(ctx context.Context, proc Processor, texts []string, verbose bool) []Item {
	items := make([]Item, len(texts))
	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(texts); j++ {
				items[j] = passThrough(j, texts[j], err)
			}
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i] = passThrough(i, text, err)
				return nil
			}
			res, err := proc.Process(ctx, text, verbose)
			items[i] = Item{Index: i, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	for _, it := range items {
		p.metrics.RowsProcessed.Add(1)
		if it.Failed() {
			p.metrics.RowsFailed.Add(1)
			p.log.Warnf("unit", "unit %d failed: %v", it.Index, it.Err)
		}
	}
	return items
}

func passThrough(i int, text string, err error) Item {
	return Item{
		Index:  i,
		Result: anonymizer.Result{AnonymizedText: text, Entities: []entity.ConfirmedEntity{}, Statistics: map[string]int{}},
		Err:    err,
	}
}

// Statistics sums the per-type counts of every item.
func Statistics(items []Item) map[string]int {
	all := make([]map[string]int, 0, len(items))
	for _, it := range items {
		all = append(all, it.Result.Statistics)
	}
	return anonymizer.CombineStatistics(all...)
}

// Details groups the matched substrings of every item by entity type. Only
// verbose results carry substrings; otherwise the map is empty.
func Details(items []Item) map[string][]string {
	out := make(map[string][]string)
	for _, it := range items {
		for _, e := range it.Result.Entities {
			if e.Text != "" {
				out[e.EntityType] = append(out[e.EntityType], e.Text)
			}
		}
	}
	return out
}

// mergeDetails appends src into dst.
func mergeDetails(dst, src map[string][]string) map[string][]string {
	if dst == nil {
		dst = make(map[string][]string, len(src))
	}
	for t, words := range src {
		dst[t] = append(dst[t], words...)
	}
	return dst
}
