// Package detector implements fair value gap detection over an ordered
// triple of closed candles.
//
// A bullish FVG exists when the third candle's low clears the first candle's
// high, leaving the interval (c1.High, c3.Low) untraded. A bearish FVG is the
// mirror: the third candle's high stays below the first candle's low, leaving
// (c3.High, c1.Low). The middle candle only provides the displacement; its
// range does not enter the bounds.
package detector

import (
	"fvg-enginev1/internal/model"
)

// Detect evaluates one ordered triple (c1 oldest, c3 newest), all closed.
// At most one gap is returned per triple; the bullish and bearish conditions
// are mutually exclusive by construction. The gap's FormedAt is the close
// time of c3, the confirming candle. Equal boundary prices do not count as
// imbalance, so ties yield no gap.
func Detect(c1, c2, c3 model.Candle) (model.Gap, bool) {
	if c3.Low > c1.High {
		gap, err := model.NewGap(c3.Symbol, c3.TF, model.Bullish, c3.Low, c1.High, c3.CloseTS)
		if err != nil {
			return model.Gap{}, false
		}
		return gap, true
	}

	if c3.High < c1.Low {
		gap, err := model.NewGap(c3.Symbol, c3.TF, model.Bearish, c1.Low, c3.High, c3.CloseTS)
		if err != nil {
			return model.Gap{}, false
		}
		return gap, true
	}

	return model.Gap{}, false
}
