// Package portfolio holds correlation and sector constraints on adding a
// position, plus the matrix helpers they need.
package portfolio

import (
	"math"
	"sort"
)

// Matrix is a symmetric ticker-by-ticker matrix.
type Matrix struct {
	Tickers []string    `json:"tickers"`
	Values  [][]float64 `json:"values"`

	index map[string]int
}

// NewMatrix builds a matrix over tickers with all values zero.
func NewMatrix(tickers []string) *Matrix {
	m := &Matrix{Tickers: append([]string(nil), tickers...)}
	m.Values = make([][]float64, len(tickers))
	for i := range m.Values {
		m.Values[i] = make([]float64, len(tickers))
	}
	m.reindex()
	return m
}

func (m *Matrix) reindex() {
	m.index = make(map[string]int, len(m.Tickers))
	for i, t := range m.Tickers {
		m.index[t] = i
	}
}

// Empty reports whether m carries no data.
func (m *Matrix) Empty() bool {
	return m == nil || len(m.Tickers) == 0
}

// Get returns the value for a pair and whether both tickers are present.
func (m *Matrix) Get(a, b string) (float64, bool) {
	if m.Empty() {
		return 0, false
	}
	if m.index == nil {
		m.reindex()
	}
	i, ok := m.index[a]
	if !ok {
		return 0, false
	}
	j, ok := m.index[b]
	if !ok {
		return 0, false
	}
	if i >= len(m.Values) || j >= len(m.Values[i]) {
		return 0, false
	}
	return m.Values[i][j], true
}

// Set writes a value symmetrically.
func (m *Matrix) Set(a, b string, v float64) {
	if m.index == nil {
		m.reindex()
	}
	i, ok := m.index[a]
	if !ok {
		return
	}
	j, ok := m.index[b]
	if !ok {
		return
	}
	m.Values[i][j] = v
	m.Values[j][i] = v
}

func (m *Matrix) square() bool {
	if m.Empty() || len(m.Values) != len(m.Tickers) {
		return false
	}
	for _, row := range m.Values {
		if len(row) != len(m.Tickers) {
			return false
		}
	}
	return true
}

func simpleReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// alignedReturns converts closes to returns, keeps tickers with at least
// two returns, and trims every series to the common trailing length.
func alignedReturns(closes map[string][]float64) ([]string, map[string][]float64) {
	returns := make(map[string][]float64, len(closes))
	n := math.MaxInt
	for t, c := range closes {
		r := simpleReturns(c)
		if len(r) < 2 {
			continue
		}
		returns[t] = r
		if len(r) < n {
			n = len(r)
		}
	}
	tickers := make([]string, 0, len(returns))
	for t, r := range returns {
		returns[t] = r[len(r)-n:]
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers, returns
}

func mean(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func covariance(a, b []float64) float64 {
	ma, mb := mean(a), mean(b)
	s := 0.0
	for i := range a {
		s += (a[i] - ma) * (b[i] - mb)
	}
	return s / float64(len(a)-1)
}

// pearson returns 0 when either series has no variance.
func pearson(a, b []float64) float64 {
	va, vb := covariance(a, a), covariance(b, b)
	if va <= 0 || vb <= 0 {
		return 0
	}
	r := covariance(a, b) / math.Sqrt(va*vb)
	return math.Max(-1, math.Min(1, r))
}

// CorrelationMatrix computes Pearson correlations of simple returns.
// Tickers are sorted and series are aligned on their trailing overlap.
func CorrelationMatrix(closes map[string][]float64) *Matrix {
	tickers, returns := alignedReturns(closes)
	m := NewMatrix(tickers)
	for i, a := range tickers {
		m.Values[i][i] = 1
		for j := i + 1; j < len(tickers); j++ {
			m.Set(a, tickers[j], pearson(returns[a], returns[tickers[j]]))
		}
	}
	return m
}

// CovarianceMatrix computes sample covariances of simple returns.
func CovarianceMatrix(closes map[string][]float64) *Matrix {
	tickers, returns := alignedReturns(closes)
	m := NewMatrix(tickers)
	for i, a := range tickers {
		for j := i; j < len(tickers); j++ {
			m.Set(a, tickers[j], covariance(returns[a], returns[tickers[j]]))
		}
	}
	return m
}

// Volatility returns sqrt(wᵀΣw). Any inconsistency between weights and
// the covariance matrix yields 0.
func Volatility(weights map[string]float64, cov *Matrix) float64 {
	if len(weights) == 0 || !cov.square() {
		return 0
	}
	tickers := make([]string, 0, len(weights))
	for t := range weights {
		if _, ok := cov.Get(t, t); !ok {
			return 0
		}
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	v := 0.0
	for _, a := range tickers {
		for _, b := range tickers {
			c, _ := cov.Get(a, b)
			v += weights[a] * weights[b] * c
		}
	}
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return math.Sqrt(v)
}
