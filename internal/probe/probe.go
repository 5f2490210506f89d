// Package probe computes aggregate directory sizes off the caller's
// goroutine. Results come back as usage events; the last request for a
// path wins, and a superseded in-flight scan never reports.
package probe

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/savesentry/savesentry/internal/domain"
	"github.com/savesentry/savesentry/internal/event"
)

type Prober struct {
	bus *event.Bus
	log domain.Logger

	mu     sync.Mutex
	latest map[string]uint64 // path -> token of the newest request
	next   uint64

	wg sync.WaitGroup
}

func New(bus *event.Bus, log domain.Logger) *Prober {
	return &Prober{
		bus:    bus,
		log:    log,
		latest: map[string]uint64{},
	}
}

// Estimate schedules an asynchronous size scan of path. The result arrives
// on the event bus unless a newer request for the same path supersedes it
// or ctx is cancelled first.
func (p *Prober) Estimate(ctx context.Context, path string) {
	p.mu.Lock()
	p.next++
	token := p.next
	p.latest[path] = token
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		bytes, err := DirSize(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				p.log.Warnf("disk usage scan failed for %s: %v", path, err)
			}
			return
		}

		p.mu.Lock()
		current := p.latest[path]
		if current == token {
			delete(p.latest, path)
		}
		p.mu.Unlock()

		if current != token || ctx.Err() != nil {
			return // superseded or abandoned, stale result stays unreported
		}
		p.bus.PublishUsage(event.UsageResult{Path: path, Bytes: bytes})
	}()
}

// Wait blocks until every in-flight scan has finished or aborted.
func (p *Prober) Wait() {
	p.wg.Wait()
}

// DirSize walks the tree under path and sums file sizes, aborting early
// when ctx is cancelled. A missing path counts as zero bytes.
func DirSize(ctx context.Context, path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return fs.SkipAll
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
