package market

// Instrument is static metadata for a tradable ticker.
type Instrument struct {
	Ticker string `json:"ticker" yaml:"ticker" mapstructure:"ticker"`
	Sector string `json:"sector" yaml:"sector" mapstructure:"sector"`
}

// Universe indexes instruments by ticker.
type Universe map[string]Instrument

// NewUniverse builds a Universe, normalizing tickers.
func NewUniverse(instruments []Instrument) Universe {
	u := make(Universe, len(instruments))
	for _, in := range instruments {
		in.Ticker = NormalizeTicker(in.Ticker)
		u[in.Ticker] = in
	}
	return u
}

// Sectors returns ticker -> sector for instruments that declare one. It
// returns nil when no sector data is known, which callers treat as missing.
func (u Universe) Sectors() map[string]string {
	out := make(map[string]string)
	for t, in := range u {
		if in.Sector != "" {
			out[t] = in.Sector
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
