package duties

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// MemorySource serves duty records held in memory.
type MemorySource struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemorySource(records []Record) *MemorySource {
	s := &MemorySource{}
	s.Add(records...)
	return s
}

// Add appends records, keeping them ordered by epoch and validator.
func (s *MemorySource) Add(records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	sort.SliceStable(s.records, func(i, j int) bool {
		if s.records[i].Epoch != s.records[j].Epoch {
			return s.records[i].Epoch < s.records[j].Epoch
		}
		return s.records[i].ValidatorIndex < s.records[j].ValidatorIndex
	})
}

func (s *MemorySource) DutyRecords(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for i := range s.records {
		if filter.Match(&s.records[i]) {
			out = append(out, s.records[i])
		}
	}
	return out, ctx.Err()
}

func (s *MemorySource) LatestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Operator.Valid {
			return s.records[i].Epoch, nil
		}
	}
	return 0, ErrNoDataAvailable
}

func (s *MemorySource) EarliestTrackedEpoch(ctx context.Context) (phase0.Epoch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.records {
		if s.records[i].Operator.Valid {
			return s.records[i].Epoch, nil
		}
	}
	return 0, ErrNoDataAvailable
}

// ReadJSONL decodes one JSON record per line.
func ReadJSONL(r io.Reader) ([]Record, error) {
	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("failed to decode line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}
