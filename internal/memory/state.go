package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const StateVersion = 1

var ErrMemoryCorrupt = errors.New("persisted memory is corrupt")

type State struct {
	Version   int    `json:"version"`
	NextIndex int    `json:"next_index"`
	Turns     []Turn `json:"turns"`
}

type Persister interface {
	LoadMemory(ctx context.Context) (*State, error)
	SaveMemory(ctx context.Context, state *State) error
}

type RestoreReport struct {
	Loaded  int
	Dropped int
}

func (m *Memory) State() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &State{
		Version:   StateVersion,
		NextIndex: m.nextIndex,
		Turns:     append([]Turn(nil), m.turns...),
	}
}

// Restore replaces the memory contents with state after repairing it: turns
// without a query or with negative or repeated indices are dropped, the next
// index is realigned to the newest surviving turn, then only the newest
// contiguous run inside the retention window is kept.
func (m *Memory) Restore(state *State) RestoreReport {
	var report RestoreReport
	if state == nil {
		state = &State{}
	}

	seen := make(map[int]struct{})
	valid := make([]Turn, 0, len(state.Turns))
	for _, t := range state.Turns {
		if t.Index < 0 || strings.TrimSpace(t.UserQuery) == "" {
			report.Dropped++
			continue
		}
		if _, dup := seen[t.Index]; dup {
			report.Dropped++
			continue
		}
		seen[t.Index] = struct{}{}
		valid = append(valid, t)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].Index < valid[j].Index })

	// The newest turn is always nextIndex-1, so a surviving turn wins over a
	// persisted counter that disagrees with it in either direction.
	nextIndex := state.NextIndex
	if nextIndex < 0 {
		nextIndex = 0
	}
	if n := len(valid); n > 0 {
		nextIndex = valid[n-1].Index + 1
	}

	windowStart := nextIndex - m.limit
	kept := make([]Turn, 0, len(valid))
	for i := len(valid) - 1; i >= 0; i-- {
		t := valid[i]
		if t.Index < windowStart {
			break
		}
		if len(kept) > 0 && t.Index != kept[len(kept)-1].Index-1 {
			break
		}
		kept = append(kept, t)
	}
	report.Dropped += len(valid) - len(kept)
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.cache = make(map[string]cacheEntry)
	m.nextIndex = nextIndex
	for _, t := range kept {
		m.appendLocked(t)
	}
	report.Loaded = len(m.turns)

	if report.Dropped > 0 {
		m.logger.Warn("repaired persisted memory", "loaded", report.Loaded, "dropped", report.Dropped)
	}
	return report
}

// DecodeTurns decodes persisted turns one at a time so a malformed record
// costs only itself. It returns the decodable turns and the number dropped.
func DecodeTurns(raws []json.RawMessage) ([]Turn, int) {
	turns := make([]Turn, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		var t Turn
		if err := json.Unmarshal(raw, &t); err != nil {
			dropped++
			continue
		}
		turns = append(turns, t)
	}
	return turns, dropped
}

type rawState struct {
	Version   int               `json:"version"`
	NextIndex int               `json:"next_index"`
	Turns     []json.RawMessage `json:"turns"`
}

func DecodeState(data []byte) (*State, int, error) {
	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMemoryCorrupt, err)
	}
	if raw.Version != 0 && raw.Version != StateVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrMemoryCorrupt, raw.Version)
	}
	turns, dropped := DecodeTurns(raw.Turns)
	return &State{Version: StateVersion, NextIndex: raw.NextIndex, Turns: turns}, dropped, nil
}
