package indicator

import (
	"math"
	"sort"

	talib "github.com/markcheno/go-talib"
	"github.com/skalibog/quantd/pkg/models"
)

// Все функции пакета тотальны: недостаток истории, нулевая дисперсия
// или отсутствие колонок дают документированное нейтральное значение,
// а не ошибку.

// RSINeutral — нейтральное значение RSI при недостатке истории
const RSINeutral = 50.0

// RSI рассчитывает RSI по Уайлдеру. Каждая точка, для которой
// истории меньше периода, получает нейтральные 50.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < period+1 {
		for i := range out {
			out[i] = RSINeutral
		}
		return out
	}

	raw := talib.Rsi(closes, period)
	copy(out, raw)
	for i := 0; i < period && i < len(out); i++ {
		out[i] = RSINeutral
	}
	return out
}

// SMA рассчитывает простую скользящую среднюю.
// Точки прогрева содержат 0 — потребители трактуют их как "нет данных".
func SMA(values []float64, period int) []float64 {
	if len(values) < period {
		return make([]float64, len(values))
	}
	return talib.Sma(values, period)
}

// EMA рассчитывает экспоненциальную скользящую среднюю
func EMA(values []float64, period int) []float64 {
	if len(values) < period {
		return make([]float64, len(values))
	}
	return talib.Ema(values, period)
}

// StdDev рассчитывает скользящее стандартное отклонение
func StdDev(values []float64, period int) []float64 {
	if len(values) < period {
		return make([]float64, len(values))
	}
	return talib.StdDev(values, period, 1.0)
}

// ATR рассчитывает Average True Range.
// Если в серии нет данных High/Low, возвращается нулевая серия.
func ATR(candles []models.Candle, period int) []float64 {
	out := make([]float64, len(candles))
	if !models.HasRange(candles) || len(candles) <= period {
		return out
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return talib.Atr(highs, lows, closes, period)
}

// LastATR возвращает последнее значение ATR (0 при отсутствии данных)
func LastATR(candles []models.Candle, period int) float64 {
	atr := ATR(candles, period)
	if len(atr) == 0 {
		return 0
	}
	return atr[len(atr)-1]
}

// VWAPBands рассчитывает VWAP и полосы ±2×std(Close, 20).
// Без данных об объеме VWAP вырождается в саму цену закрытия.
func VWAPBands(candles []models.Candle) (vwap, upper, lower []float64) {
	closes := models.Closes(candles)
	vwap = make([]float64, len(candles))

	if !models.HasVolume(candles) {
		copy(vwap, closes)
	} else {
		var cumPV, cumV float64
		for i, c := range candles {
			cumPV += c.Close * c.Volume
			cumV += c.Volume
			if cumV == 0 {
				vwap[i] = c.Close
				continue
			}
			vwap[i] = cumPV / cumV
		}
	}

	std := StdDev(closes, 20)
	upper = make([]float64, len(candles))
	lower = make([]float64, len(candles))
	for i := range vwap {
		upper[i] = vwap[i] + 2*std[i]
		lower[i] = vwap[i] - 2*std[i]
	}
	return vwap, upper, lower
}

// Returns рассчитывает дневные относительные изменения серии.
// Длина результата на единицу меньше длины серии.
func Returns(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, series[i]/series[i-1]-1)
	}
	return out
}

// Mean рассчитывает среднее арифметическое
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Covariance рассчитывает ковариацию двух серий равной длины
func Covariance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	ma := Mean(a[:n])
	mb := Mean(b[:n])
	var sum float64
	for i := 0; i < n; i++ {
		sum += (a[i] - ma) * (b[i] - mb)
	}
	return sum / float64(n)
}

// Variance рассчитывает дисперсию серии
func Variance(values []float64) float64 {
	return Covariance(values, values)
}

// BetaAlpha рассчитывает бету и альфу актива к бенчмарку по дневным
// ценам. Меньше 10 выровненных точек или нулевая дисперсия бенчмарка —
// нейтральные (1.0, 0.0), никогда не ошибка.
func BetaAlpha(asset, bench []float64) (beta, alpha float64) {
	ra := Returns(asset)
	rb := Returns(bench)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	if n < 10 {
		return 1.0, 0.0
	}
	ra = ra[len(ra)-n:]
	rb = rb[len(rb)-n:]

	varB := Variance(rb)
	if varB == 0 {
		return 1.0, 0.0
	}
	beta = Covariance(ra, rb) / varB
	alpha = (Mean(ra) - beta*Mean(rb)) * 252
	return beta, alpha
}

// PanelReturns извлекает из панели серии дневных изменений
// в детерминированном (отсортированном) порядке активов.
func PanelReturns(panel *models.ClosePanel) (tickers []string, returns [][]float64) {
	if panel.Empty() {
		return nil, nil
	}
	tickers = panel.Tickers()
	sort.Strings(tickers)

	returns = make([][]float64, len(tickers))
	minLen := -1
	for i, t := range tickers {
		returns[i] = Returns(panel.Closes[t])
		if minLen < 0 || len(returns[i]) < minLen {
			minLen = len(returns[i])
		}
	}
	if minLen <= 0 {
		return nil, nil
	}
	// Выравниваем по хвосту: берем последние minLen точек каждой серии
	for i := range returns {
		returns[i] = returns[i][len(returns[i])-minLen:]
	}
	return tickers, returns
}

// CovMatrix рассчитывает ковариационную матрицу серий доходностей
func CovMatrix(returns [][]float64) [][]float64 {
	n := len(returns)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := 0; j <= i; j++ {
			c := Covariance(returns[i], returns[j])
			out[i][j] = c
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out[i][j] = out[j][i]
		}
	}
	return out
}

// CorrMatrix рассчитывает корреляционную матрицу серий доходностей.
// Пары с нулевой дисперсией получают корреляцию 0.
func CorrMatrix(returns [][]float64) [][]float64 {
	cov := CovMatrix(returns)
	n := len(cov)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			denom := math.Sqrt(cov[i][i] * cov[j][j])
			if denom == 0 {
				if i == j {
					out[i][j] = 1
				}
				continue
			}
			out[i][j] = cov[i][j] / denom
		}
	}
	return out
}

// Quantile возвращает q-квантиль серии с линейной интерполяцией
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
