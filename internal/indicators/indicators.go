// Package indicators implements the fixed indicator registry (spec §6):
// RSI, SMA, EMA, MOM, ROC, STDEV, MAX_DD, CUM_RET, PRICE, MA_RETURN, INV_VOL.
// Every function is pure over a ticker's price series and a point in time,
// as the evaluator's determinism requirement (spec §4.2) demands.
package indicators

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/backtest/internal/engineerr"
	"github.com/aristath/backtest/internal/priceseries"
)

// Name identifies one of the fixed indicator entries.
type Name string

const (
	RSI      Name = "RSI"
	SMA      Name = "SMA"
	EMA      Name = "EMA"
	MOM      Name = "MOM"
	ROC      Name = "ROC"
	STDEV    Name = "STDEV"
	MAX_DD   Name = "MAX_DD"
	CUM_RET  Name = "CUM_RET"
	PRICE    Name = "PRICE"
	MA_RETURN Name = "MA_RETURN"
	INV_VOL  Name = "INV_VOL"
)

// lookback returns the warm-up (in bars) a named indicator needs given its
// params, used by the evaluator to compute the overall warm-up period
// (spec §4.2 step 2: "warm-up is the maximum lookback over all indicators
// used").
func lookback(name Name, params map[string]float64) (int, error) {
	switch name {
	case PRICE:
		return 1, nil
	case RSI, SMA, EMA, MOM, ROC, STDEV, MAX_DD, CUM_RET, MA_RETURN, INV_VOL:
		n, err := paramN(params)
		if err != nil {
			return 0, err
		}
		return n + 1, nil
	default:
		return 0, engineerr.New(engineerr.KindConfig, fmt.Sprintf("unknown indicator %q", name))
	}
}

// Lookback is the exported form of lookback for evaluator warm-up computation.
func Lookback(name string, params map[string]float64) (int, error) {
	return lookback(Name(name), params)
}

func paramN(params map[string]float64) (int, error) {
	v, ok := params["n"]
	if !ok {
		return 0, engineerr.New(engineerr.KindConfig, "indicator requires parameter \"n\"")
	}
	n := int(v)
	if n <= 0 {
		return 0, engineerr.New(engineerr.KindConfig, fmt.Sprintf("parameter \"n\" must be positive, got %v", v))
	}
	return n, nil
}

// Eval computes the named indicator for series at idx (the evaluator has
// already resolved the trading date to a series index). It is the Go
// analogue of spec §6's `eval(name, ticker, params, date, history)`: the
// evaluator resolves `ticker` and `date` into `series`/`idx` once per day,
// since the evaluator already owns the date->index mapping.
func Eval(name string, params map[string]float64, series *priceseries.Series, idx int) (float64, error) {
	n := Name(name)
	switch n {
	case PRICE:
		if idx < 0 || idx >= len(series.Bars) {
			return 0, engineerr.New(engineerr.KindDataInsufficient, "index out of range for PRICE").WithTicker(series.Ticker)
		}
		return series.Bars[idx].AdjClose, nil

	case RSI:
		window, err := warmWindow(n, params, series, idx)
		if err != nil {
			return 0, err
		}
		nPeriod, _ := paramN(params)
		values := talib.Rsi(window, nPeriod)
		return lastFinite(values, n, series.Ticker)

	case SMA:
		window, err := warmWindow(n, params, series, idx)
		if err != nil {
			return 0, err
		}
		nPeriod, _ := paramN(params)
		values := talib.Sma(window, nPeriod)
		return lastFinite(values, n, series.Ticker)

	case EMA:
		window, err := warmWindow(n, params, series, idx)
		if err != nil {
			return 0, err
		}
		nPeriod, _ := paramN(params)
		values := talib.Ema(window, nPeriod)
		return lastFinite(values, n, series.Ticker)

	case MOM:
		window, err := warmWindow(n, params, series, idx)
		if err != nil {
			return 0, err
		}
		nPeriod, _ := paramN(params)
		values := talib.Mom(window, nPeriod)
		return lastFinite(values, n, series.Ticker)

	case ROC:
		window, err := warmWindow(n, params, series, idx)
		if err != nil {
			return 0, err
		}
		nPeriod, _ := paramN(params)
		values := talib.Roc(window, nPeriod)
		return lastFinite(values, n, series.Ticker)

	case STDEV:
		nPeriod, err := paramN(params)
		if err != nil {
			return 0, err
		}
		window, ok := series.Window(idx, nPeriod)
		if !ok {
			return 0, insufficientErr(n, series.Ticker)
		}
		return stat.StdDev(window, nil), nil

	case MAX_DD:
		nPeriod, err := paramN(params)
		if err != nil {
			return 0, err
		}
		window, ok := series.Window(idx, nPeriod)
		if !ok {
			return 0, insufficientErr(n, series.Ticker)
		}
		return maxDrawdown(window), nil

	case CUM_RET:
		nPeriod, err := paramN(params)
		if err != nil {
			return 0, err
		}
		window, ok := series.Window(idx, nPeriod)
		if !ok {
			return 0, insufficientErr(n, series.Ticker)
		}
		if window[0] == 0 {
			return 0, nil
		}
		return (window[len(window)-1] - window[0]) / window[0], nil

	case MA_RETURN:
		nPeriod, err := paramN(params)
		if err != nil {
			return 0, err
		}
		window, ok := series.Window(idx, nPeriod)
		if !ok {
			return 0, insufficientErr(n, series.Ticker)
		}
		return stat.Mean(dailyReturns(window), nil), nil

	case INV_VOL:
		nPeriod, err := paramN(params)
		if err != nil {
			return 0, err
		}
		window, ok := series.Window(idx, nPeriod+1)
		if !ok {
			return 0, insufficientErr(n, series.Ticker)
		}
		vol := stat.StdDev(dailyReturns(window), nil)
		if vol == 0 {
			return 0, engineerr.New(engineerr.KindEvaluator, "INV_VOL: zero volatility, cannot invert").WithTicker(series.Ticker)
		}
		return 1 / vol, nil

	default:
		return 0, engineerr.New(engineerr.KindConfig, fmt.Sprintf("unknown indicator %q", name))
	}
}

// warmWindow returns the AdjClose series up through idx, the full history
// go-talib needs to have warmed its internal state by the time it reaches
// the final value (unlike STDEV/MAX_DD/CUM_RET, which only need the last n
// bars since they have no internal smoothing state).
func warmWindow(name Name, params map[string]float64, series *priceseries.Series, idx int) ([]float64, error) {
	nPeriod, err := paramN(params)
	if err != nil {
		return nil, err
	}
	if idx < nPeriod {
		return nil, insufficientErr(name, series.Ticker)
	}
	return series.AdjCloses(idx), nil
}

func lastFinite(values []float64, name Name, ticker string) (float64, error) {
	if len(values) == 0 {
		return 0, insufficientErr(name, ticker)
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, insufficientErr(name, ticker)
	}
	return v, nil
}

func insufficientErr(name Name, ticker string) error {
	return engineerr.New(engineerr.KindDataInsufficient, fmt.Sprintf("%s: insufficient warm-up history", name)).WithTicker(ticker)
}

func dailyReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return out
}

func maxDrawdown(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	maxDD := 0.0
	peak := prices[0]
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			if dd := (peak - p) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
