package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	return cr
}

// isHeader reports whether row is a header, identified by its first cell.
func isHeader(row []string, first string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), first)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

// LoadCandlesCSV reads rows of
//
//	time,ticker,open,high,low,close[,volume]
//
// and groups them by ticker, oldest first. A header row is allowed.
func LoadCandlesCSV(r io.Reader) (map[string][]Candle, error) {
	cr := newCSVReader(r)
	out := make(map[string][]Candle)
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || (line == 1 && isHeader(row, "time")) {
			continue
		}
		if len(row) < 6 {
			return nil, fmt.Errorf("candles line %d: want at least 6 fields, got %d", line, len(row))
		}

		ts, err := parseTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("candles line %d: %w", line, err)
		}
		var vals [5]float64
		n := 4
		if len(row) >= 7 {
			n = 5
		}
		for i := 0; i < n; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[2+i]), 64)
			if err != nil {
				return nil, fmt.Errorf("candles line %d: field %d: %w", line, 2+i, err)
			}
			vals[i] = v
		}

		t := NormalizeTicker(row[1])
		out[t] = append(out[t], Candle{
			Time:   ts,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}

	for t := range out {
		c := out[t]
		sort.SliceStable(c, func(i, j int) bool { return c[i].Time.Before(c[j].Time) })
	}
	return out, nil
}

// LoadSignalsCSV reads rows of
//
//	ticker,action,price,confidence[,strategy_tag]
//
// preserving file order. Every signal is validated.
func LoadSignalsCSV(r io.Reader) ([]Signal, error) {
	cr := newCSVReader(r)
	var out []Signal
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 || (line == 1 && isHeader(row, "ticker")) {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("signals line %d: want at least 4 fields, got %d", line, len(row))
		}

		action, err := ParseAction(row[1])
		if err != nil {
			return nil, fmt.Errorf("signals line %d: %w", line, err)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("signals line %d: price: %w", line, err)
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("signals line %d: confidence: %w", line, err)
		}
		s := Signal{
			Ticker:     NormalizeTicker(row[0]),
			Action:     action,
			Price:      price,
			Confidence: conf,
		}
		if len(row) >= 5 {
			s.StrategyTag = strings.TrimSpace(row[4])
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("signals line %d: %w", line, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadCandlesFile loads a candle CSV into a new MemoryProvider.
func LoadCandlesFile(path string) (*MemoryProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byTicker, err := LoadCandlesCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p := NewMemoryProvider()
	for t, c := range byTicker {
		p.Set(t, c)
	}
	return p, nil
}

// LoadSignalsFile reads a signal CSV from disk.
func LoadSignalsFile(path string) ([]Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sigs, err := LoadSignalsCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sigs, nil
}
