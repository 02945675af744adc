package technical

import (
	"github.com/skalibog/quantd/internal/indicator"
	"github.com/skalibog/quantd/pkg/models"
)

// Analyzer оценивает тренд и момент актива по шкале 0-100.
// Без состояния: безопасен для параллельных вызовов по разным активам.
type Analyzer struct{}

// NewAnalyzer создает новый технический анализатор
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze возвращает технический суб-скор актива (базовая линия 50).
// Недостаток истории не ошибка: соответствующие слагаемые просто
// не начисляются.
func (a *Analyzer) Analyze(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 50
	}

	closes := models.Closes(candles)
	price := closes[len(closes)-1]
	score := 50.0

	// Тренд: положение цены и взаимное положение средних
	if len(closes) > 50 {
		sma50 := indicator.SMA(closes, 50)
		last50 := sma50[len(sma50)-1]

		last200 := last50
		if len(closes) > 200 {
			sma200 := indicator.SMA(closes, 200)
			last200 = sma200[len(sma200)-1]
		}

		if price > last50 {
			score += 10
		}
		if last50 > last200 {
			score += 10
		} else if last50 < last200 {
			score -= 10
		}
	}

	// Момент: RSI
	rsi := indicator.RSI(closes, 14)
	lastRSI := rsi[len(rsi)-1]
	switch {
	case lastRSI < 30:
		score += 15
	case lastRSI < 45:
		score += 5
	case lastRSI > 70:
		score -= 15
	}

	// Волатильность: положение цены относительно полос VWAP
	_, upper, lower := indicator.VWAPBands(candles)
	if price < lower[len(lower)-1] {
		score += 10
	} else if price > upper[len(upper)-1] {
		score -= 10
	}

	return clamp(score)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
