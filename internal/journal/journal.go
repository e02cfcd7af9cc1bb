package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// TradeRecord is one closed trade, appended to the journal file as a
// single JSON line.
type TradeRecord struct {
	ID         string          `json:"id"`
	Time       time.Time       `json:"time"`
	Symbol     string          `json:"symbol"`
	Direction  types.Direction `json:"direction"`
	Entry      float64         `json:"entry"`
	Exit       float64         `json:"exit"`
	PnLPct     float64         `json:"pnl_pct"` // 0.02 = +2%
	Profit     float64         `json:"profit"`
	Fee        float64         `json:"fee"`
	Balance    float64         `json:"balance"` // balance after close
	HasBOS     bool            `json:"has_bos"`
	ExitReason string          `json:"exit_reason"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// Journal is the append-only trade log. Records are never rewritten;
// a malformed line is skipped on load rather than failing the file.
type Journal struct {
	mu     sync.RWMutex
	path   string
	trades []TradeRecord
}

func New(path string) *Journal {
	return &Journal{path: path}
}

// Load reads all records from disk. Missing file means empty journal.
func (j *Journal) Load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	j.trades = nil
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec TradeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Torn tail write or hand-edited line; the rest of the
			// journal is still good.
			continue
		}
		j.trades = append(j.trades, rec)
	}
	return scanner.Err()
}

// Append assigns an ID and writes the record to the file and memory.
func (j *Journal) Append(rec TradeRecord) (TradeRecord, error) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("marshal trade record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return rec, fmt.Errorf("create journal dir: %w", err)
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return rec, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return rec, fmt.Errorf("append trade record: %w", err)
	}
	j.trades = append(j.trades, rec)
	return rec, nil
}

// Trades returns a copy of all records in append order.
func (j *Journal) Trades() []TradeRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]TradeRecord, len(j.trades))
	copy(out, j.trades)
	return out
}

// TradesSince returns records at or after the cutoff.
func (j *Journal) TradesSince(cutoff time.Time) []TradeRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []TradeRecord
	for _, t := range j.trades {
		if !t.Time.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.trades)
}
