package sizing

import "math"

// StopRisk sizes a position so that hitting the stop loses RiskPct of
// equity.
type StopRisk struct {
	Equity     float64
	RiskPct    float64 // 0.01 = 1% of equity
	EntryPrice float64
	StopPrice  float64
}

type StopRiskResult struct {
	Quantity   int64
	RiskAmount float64
	PerShare   float64
}

func (in StopRisk) Calculate() StopRiskResult {
	perShare := math.Abs(in.EntryPrice - in.StopPrice)
	riskAmt := in.Equity * in.RiskPct
	if perShare == 0 || riskAmt <= 0 {
		return StopRiskResult{RiskAmount: math.Max(riskAmt, 0), PerShare: perShare}
	}
	return StopRiskResult{
		Quantity:   int64(math.Floor(riskAmt / perShare)),
		RiskAmount: riskAmt,
		PerShare:   perShare,
	}
}
