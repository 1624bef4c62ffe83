// Package pricing estimates synthesis cost before any request is sent.
package pricing

import (
	"math"
	"strconv"
)

// Billing rounds every job up to whole blocks of DefaultBlockChars characters;
// the per-block rates mirror the upstream price sheet for the standard and HD
// model tiers.
const (
	DefaultBlockChars    = 1000
	DefaultUSDPerBlock   = 0.015
	DefaultUSDPerBlockHD = 0.030
)

// Estimator computes cost estimates from character counts. The zero value is
// not usable; construct one with NewEstimator or populate all fields.
type Estimator struct {
	BlockChars    int
	USDPerBlock   float64
	USDPerBlockHD float64
}

// Quote is a cost preview for one synthesis job.
type Quote struct {
	Characters int     `json:"characters"`
	Chunks     int     `json:"chunks"`
	Blocks     int     `json:"blocks"`
	HD         bool    `json:"hd"`
	USD        float64 `json:"usd"`
}

// NewEstimator returns an estimator with the default block size and rates.
func NewEstimator() Estimator {
	return Estimator{
		BlockChars:    DefaultBlockChars,
		USDPerBlock:   DefaultUSDPerBlock,
		USDPerBlockHD: DefaultUSDPerBlockHD,
	}
}

// Estimate returns the cost in USD for charCount characters, rounded to three
// decimal places for display. Zero or negative counts cost nothing; a partial
// block is charged as a full one.
func (e Estimator) Estimate(charCount int, hd bool) float64 {
	if charCount <= 0 {
		return 0
	}
	rate := e.USDPerBlock
	if hd {
		rate = e.USDPerBlockHD
	}
	return round3(float64(e.blocks(charCount)) * rate)
}

// Quote bundles the estimate with the counts the caller already knows.
func (e Estimator) Quote(charCount, chunks int, hd bool) Quote {
	return Quote{
		Characters: charCount,
		Chunks:     chunks,
		Blocks:     e.blocks(charCount),
		HD:         hd,
		USD:        e.Estimate(charCount, hd),
	}
}

func (e Estimator) blocks(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	block := e.BlockChars
	if block <= 0 {
		block = DefaultBlockChars
	}
	return (charCount + block - 1) / block
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// FormatUSD renders an estimate the way it is shown to users.
func FormatUSD(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 3, 64)
}
