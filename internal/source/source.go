package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/cadencectl/cadence/internal/core"
)

// File is a list of targets loaded from a YAML or JSON document. Either a
// bare sequence of targets or a mapping with a `targets` key is accepted.
type File struct {
	Targets []core.Target `yaml:"targets"`
}

// Slice hands out targets in order.
type Slice struct {
	mu      sync.Mutex
	targets []core.Target
	next    int
}

// NewSlice wraps targets.
func NewSlice(targets []core.Target) *Slice {
	return &Slice{targets: targets}
}

// Next returns the next target, or ok=false when exhausted.
func (s *Slice) Next(ctx context.Context) (core.Target, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.Target{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.targets) {
		return core.Target{}, false, nil
	}
	target := s.targets[s.next]
	s.next++
	return target, true, nil
}

// Remaining reports how many targets have not been handed out.
func (s *Slice) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets) - s.next
}

// Load reads a target file. "-" reads from stdin.
func Load(path string) (*Slice, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("target file path is required")
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}

	targets, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return NewSlice(targets), nil
}

// Parse decodes targets from YAML or JSON. Targets without an ID are
// rejected; duplicate IDs keep the first occurrence.
func Parse(data []byte) ([]core.Target, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var targets []core.Target
	if trimmed[0] == '[' || trimmed[0] == '-' {
		if err := yaml.Unmarshal(trimmed, &targets); err != nil {
			return nil, err
		}
	} else {
		var file File
		if err := yaml.Unmarshal(trimmed, &file); err != nil {
			return nil, err
		}
		targets = file.Targets
	}

	seen := make(map[string]struct{}, len(targets))
	out := targets[:0]
	for i, target := range targets {
		target.ID = strings.TrimSpace(target.ID)
		if target.ID == "" {
			return nil, fmt.Errorf("target %d has no id", i)
		}
		if _, dup := seen[target.ID]; dup {
			continue
		}
		seen[target.ID] = struct{}{}
		out = append(out, target)
	}
	return out, nil
}
