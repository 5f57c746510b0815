package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestDedupReplaysWithinWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	d := newDedup(time.Minute, func() time.Time { return now })

	var calls int
	fn := func() (*Reply, error) {
		calls++
		return &Reply{Message: "ok"}, nil
	}

	r, err, replayed := d.do("i1", fn)
	if err != nil || replayed || r.Message != "ok" {
		t.Fatalf("unexpected first result %+v %v %v", r, err, replayed)
	}
	r, _, replayed = d.do("i1", fn)
	if !replayed || !r.Replayed || calls != 1 {
		t.Fatalf("expected replay, calls=%d replayed=%v", calls, replayed)
	}

	now = now.Add(time.Minute)
	if _, _, replayed = d.do("i1", fn); replayed || calls != 2 {
		t.Fatalf("expected execution after expiry, calls=%d", calls)
	}
}

func TestDedupCachesErrors(t *testing.T) {
	d := newDedup(time.Minute, time.Now)
	boom := errors.New("boom")
	var calls int
	fn := func() (*Reply, error) {
		calls++
		return nil, boom
	}
	d.do("i1", fn)
	_, err, replayed := d.do("i1", fn)
	if !replayed || !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected cached error, got %v replayed=%v calls=%d", err, replayed, calls)
	}
}

func TestDedupMergesConcurrentDuplicates(t *testing.T) {
	d := newDedup(time.Minute, time.Now)
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func() (*Reply, error) {
		calls.Add(1)
		<-release
		return &Reply{Message: "done"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err, _ := d.do("same", fn)
			if err != nil || r.Message != "done" {
				t.Errorf("unexpected result %+v %v", r, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("expected a single execution, got %d", n)
	}
}

func TestDedupSweepsExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	d := newDedup(time.Second, func() time.Time { return now })
	fn := func() (*Reply, error) { return &Reply{}, nil }

	d.do("a", fn)
	d.do("b", fn)
	now = now.Add(2 * time.Minute)
	d.do("c", fn)

	if n := d.size(); n != 1 {
		t.Fatalf("expected expired entries to be swept, %d left", n)
	}
}
