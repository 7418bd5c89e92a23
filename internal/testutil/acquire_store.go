package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/workflo/cmsauth/store"
)

type (
	TestLog interface {
		Fatal(...interface{})
		Log(...interface{})
	}

	// Clock is a manually advanced time source shared by a store and
	// the services built on top of it.
	Clock struct {
		sync.Mutex
		t time.Time
	}
)

func NewClock(start time.Time) *Clock {
	return &Clock{t: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.Lock()
	c.t = c.t.Add(d)
	c.Unlock()
}

// AcquireStore opens a store backed by a fresh database file
// inside a temporary directory that is removed by the cleanup function.
func AcquireStore(ctx context.Context, t TestLog, name string, opts ...store.Option) (*store.Store, func()) {
	dir, err := os.MkdirTemp("", "cmsauth-tests")
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(ctx, filepath.Join(dir, name, "cms.db"), opts...)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return st, func() {
		err := st.Close()
		if err != nil {
			t.Log("unable to close store", err)
		}
		err = os.RemoveAll(dir)
		if err != nil {
			t.Log("unable to cleanup temp dir", dir)
		}
	}
}
