package portfolio

import (
	"fmt"
	"math"

	"github.com/rustyeddy/riskledger/pkg/logger"
)

const (
	CodeCorrelation = "correlation_limit"
	CodeSector      = "sector_limit"
)

// Checker vetoes adding a ticker that is too correlated with, or too
// concentrated in a sector alongside, current holdings.
type Checker struct {
	MaxCorrelation    float64
	MaxSectorExposure float64
	Logger            *logger.Logger
}

// Result explains an Evaluate call. Degraded lists the checks that were
// skipped for missing data.
type Result struct {
	Allowed  bool
	Code     string
	Reason   string
	Degraded []string
}

// AllowAdd reports whether candidate may be added and, if not, why.
func (c Checker) AllowAdd(candidate string, holdings []string, corr *Matrix, sectors map[string]string) (bool, string) {
	r := c.Evaluate(candidate, holdings, corr, sectors)
	return r.Allowed, r.Reason
}

func (c Checker) Evaluate(candidate string, holdings []string, corr *Matrix, sectors map[string]string) Result {
	log := logger.OrNop(c.Logger)
	res := Result{Allowed: true}

	for _, h := range holdings {
		if h == candidate {
			return res
		}
	}
	if len(holdings) == 0 {
		return res
	}

	if corr.Empty() {
		res.Degraded = append(res.Degraded, "correlation: no matrix")
		log.Warn("degraded: correlation check skipped, no matrix", logger.StringField("ticker", candidate))
	} else {
		for _, h := range holdings {
			v, ok := corr.Get(candidate, h)
			if !ok || math.IsNaN(v) {
				res.Degraded = append(res.Degraded, "correlation: no data for "+candidate+"/"+h)
				log.Warn("degraded: correlation pair missing",
					logger.StringField("ticker", candidate), logger.StringField("holding", h))
				continue
			}
			// negative correlation is a hedge
			if v > c.MaxCorrelation {
				res.Allowed = false
				res.Code = CodeCorrelation
				res.Reason = fmt.Sprintf("%s correlation with %s is %.2f, above max %.2f", candidate, h, v, c.MaxCorrelation)
				return res
			}
		}
	}

	sector, ok := sectors[candidate]
	switch {
	case len(sectors) == 0:
		res.Degraded = append(res.Degraded, "sector: no sector map")
		log.Warn("degraded: sector check skipped, no sector map", logger.StringField("ticker", candidate))
	case !ok || sector == "":
		res.Degraded = append(res.Degraded, "sector: unknown sector for "+candidate)
		log.Warn("degraded: sector check skipped, unknown sector", logger.StringField("ticker", candidate))
	default:
		same := 0
		for _, h := range holdings {
			if sectors[h] == sector {
				same++
			}
		}
		share := float64(same) / float64(len(holdings))
		if share >= c.MaxSectorExposure {
			res.Allowed = false
			res.Code = CodeSector
			res.Reason = fmt.Sprintf("sector %s already %.0f%% of holdings, max %.0f%%", sector, share*100, c.MaxSectorExposure*100)
		}
	}
	return res
}
