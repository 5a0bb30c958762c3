package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Feed supplies fresh detector inputs to the scan loop.
type Feed interface {
	Next(ctx context.Context) (Inputs, error)
}

// FileFeed re-reads a JSON Inputs document on every tick so an external
// process can keep it current. An unchanged file yields no fresh inputs.
type FileFeed struct {
	path string

	mu      sync.Mutex
	lastMod int64
	lastLen int64
}

func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

func (f *FileFeed) Next(ctx context.Context) (Inputs, error) {
	if err := ctx.Err(); err != nil {
		return Inputs{}, err
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return Inputs{}, fmt.Errorf("stat watchdog inputs %q: %w", f.path, err)
	}

	f.mu.Lock()
	unchanged := info.ModTime().UnixNano() == f.lastMod && info.Size() == f.lastLen
	f.mu.Unlock()
	if unchanged {
		return Inputs{}, nil
	}

	in, err := ReadInputs(f.path)
	if err != nil {
		return Inputs{}, err
	}

	f.mu.Lock()
	f.lastMod = info.ModTime().UnixNano()
	f.lastLen = info.Size()
	f.mu.Unlock()
	return in, nil
}

// ReadInputs decodes one Inputs document.
func ReadInputs(path string) (Inputs, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Inputs{}, fmt.Errorf("read watchdog inputs %q: %w", path, err)
	}
	var in Inputs
	if err := json.Unmarshal(contents, &in); err != nil {
		return Inputs{}, fmt.Errorf("parse watchdog inputs %q: %w", path, err)
	}
	return in, nil
}

// StaticFeed returns the same inputs once, then nothing.
type StaticFeed struct {
	mu sync.Mutex
	in *Inputs
}

func NewStaticFeed(in Inputs) *StaticFeed {
	return &StaticFeed{in: &in}
}

func (s *StaticFeed) Next(context.Context) (Inputs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.in == nil {
		return Inputs{}, nil
	}
	in := *s.in
	s.in = nil
	return in, nil
}
