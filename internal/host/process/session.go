package process

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/host/hprof"
)

// NewSession implements core.SessionFactory.
func (t *Target) NewSession(ctx context.Context) (core.Session, error) {
	if _, err := t.process(ctx); err != nil {
		return nil, err
	}
	s := &session{target: t, ctx: ctx}
	s.rt = &lazyRuntime{load: s.snapshot}
	return s, nil
}

type session struct {
	target *Target
	ctx    context.Context
	rt     *lazyRuntime

	mu  sync.Mutex
	dir string
}

func (s *session) Runtime() core.Runtime       { return s.rt }
func (s *session) Management() core.Management { return s.target }

// Close removes the session's heap snapshot, if one was taken.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		return nil
	}
	err := os.RemoveAll(s.dir)
	s.dir = ""
	if err != nil {
		return core.ErrIO("removing session heap snapshot", err)
	}
	return nil
}

// snapshot dumps the target's heap to a scratch file and parses it.
func (s *session) snapshot() (*hprof.Dump, error) {
	dir, err := os.MkdirTemp(s.target.TempDir, "killswitch-census-")
	if err != nil {
		return nil, core.ErrIO("creating heap snapshot directory", err)
	}
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()

	path := filepath.Join(dir, "heap.hprof")
	ctx, cancel := context.WithTimeout(s.ctx, s.target.DumpTimeout)
	defer cancel()
	if err := s.target.dumpHeap(ctx, path); err != nil {
		return nil, err
	}
	return hprof.Open(path)
}

// lazyRuntime takes the heap snapshot on first use.
type lazyRuntime struct {
	load func() (*hprof.Dump, error)

	once sync.Once
	dump *hprof.Dump
	err  error
}

func (r *lazyRuntime) get() (*hprof.Dump, error) {
	r.once.Do(func() {
		r.dump, r.err = r.load()
	})
	return r.dump, r.err
}

func (r *lazyRuntime) LoadedClasses() ([]core.ClassRef, error) {
	d, err := r.get()
	if err != nil {
		return nil, err
	}
	return d.LoadedClasses()
}

func (r *lazyRuntime) SetTag(c core.ClassRef, tag int64) error {
	d, err := r.get()
	if err != nil {
		return err
	}
	return d.SetTag(c, tag)
}

func (r *lazyRuntime) ClassSignature(c core.ClassRef) (string, error) {
	d, err := r.get()
	if err != nil {
		return "", err
	}
	return d.ClassSignature(c)
}

func (r *lazyRuntime) FollowReferences(cb core.HeapReferenceCallback, userData any) error {
	d, err := r.get()
	if err != nil {
		return err
	}
	return d.FollowReferences(cb, userData)
}
