package session

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultDedupTTL = 15 * time.Minute

// dedup 按交互 ID 缓存处理结果；并发的重复投递合并为一次执行
type dedup struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	entries   map[string]dedupEntry
	lastSweep time.Time

	group singleflight.Group
}

type dedupEntry struct {
	reply     *Reply
	err       error
	expiresAt time.Time
}

type flightResult struct {
	reply *Reply
	err   error
}

func newDedup(ttl time.Duration, now func() time.Time) *dedup {
	return &dedup{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]dedupEntry),
	}
}

func (d *dedup) lookup(id string) (dedupEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return dedupEntry{}, false
	}
	if !d.now().Before(e.expiresAt) {
		delete(d.entries, id)
		return dedupEntry{}, false
	}
	return e, true
}

func (d *dedup) remember(id string, reply *Reply, err error) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[id] = dedupEntry{reply: reply, err: err, expiresAt: now.Add(d.ttl)}
	if now.Sub(d.lastSweep) < time.Minute {
		return
	}
	d.lastSweep = now
	for k, e := range d.entries {
		if !now.Before(e.expiresAt) {
			delete(d.entries, k)
		}
	}
}

// do 执行 fn，窗口期内同一 id 只执行一次；replayed 表示结果来自缓存
func (d *dedup) do(id string, fn func() (*Reply, error)) (reply *Reply, err error, replayed bool) {
	if e, ok := d.lookup(id); ok {
		return replay(e.reply), e.err, true
	}

	v, _, _ := d.group.Do(id, func() (any, error) {
		if e, ok := d.lookup(id); ok {
			return flightResult{reply: replay(e.reply), err: e.err}, nil
		}
		r, err := fn()
		d.remember(id, r, err)
		return flightResult{reply: r, err: err}, nil
	})
	res := v.(flightResult)
	return res.reply, res.err, false
}

func replay(r *Reply) *Reply {
	if r == nil {
		return nil
	}
	c := *r
	c.Session = r.Session.Clone()
	c.Replayed = true
	return &c
}

func (d *dedup) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
