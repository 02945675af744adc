package risk

import (
	"fmt"
	"math"

	"github.com/skalibog/quantd/internal/indicator"
	"github.com/skalibog/quantd/pkg/models"
)

// Пакет оценивает риск портфеля по исторической панели цен.
// Все функции тотальны: вырожденные входы (пустой портфель, нулевая
// дисперсия) дают документированные нулевые/нейтральные результаты.

// heldInPanel возвращает активы портфеля, для которых панель знает цену
func heldInPanel(portfolio *models.Portfolio, panel *models.ClosePanel) []string {
	tickers, _ := indicator.PanelReturns(panel)
	var out []string
	for _, t := range tickers {
		if pos, ok := portfolio.Positions[t]; ok && pos.Qty > 0 && panel.Last(t) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// positionWeights строит веса позиций по текущей рыночной стоимости
func positionWeights(portfolio *models.Portfolio, panel *models.ClosePanel, tickers []string) (weights []float64, total float64) {
	values := make([]float64, len(tickers))
	for i, t := range tickers {
		values[i] = portfolio.Positions[t].Qty * panel.Last(t)
		total += values[i]
	}
	if total == 0 {
		return nil, 0
	}
	weights = make([]float64, len(values))
	for i, v := range values {
		weights[i] = v / total
	}
	return weights, total
}

// NormPPF возвращает квантиль стандартного нормального распределения
func NormPPF(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// NormCDF возвращает функцию распределения стандартной нормали
func NormCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// VaR рассчитывает параметрический Value at Risk портфеля за один день.
// Возвращает (денежный VaR, VaR в процентах стоимости позиций).
// Портфель без оцененных позиций дает (0, 0).
func VaR(portfolio *models.Portfolio, panel *models.ClosePanel, confidence float64) (money, pct float64) {
	tickers := heldInPanel(portfolio, panel)
	if len(tickers) == 0 {
		return 0, 0
	}
	weights, total := positionWeights(portfolio, panel, tickers)
	if total == 0 {
		return 0, 0
	}

	returns := make([][]float64, len(tickers))
	for i, t := range tickers {
		returns[i] = indicator.Returns(panel.Series(t))
	}
	cov := indicator.CovMatrix(returns)

	// Дневная волатильность портфеля: sqrt(w' Σ w)
	var variance float64
	for i := range weights {
		for j := range weights {
			variance += weights[i] * cov[i][j] * weights[j]
		}
	}
	if variance <= 0 {
		return 0, 0
	}

	vol := math.Sqrt(variance)
	varPct := vol * NormPPF(confidence)
	return total * varPct, varPct * 100
}

// CVaR рассчитывает исторический Conditional VaR (ожидаемый убыток при
// пробое VaR) как положительную денежную величину.
// Инвариант: CVaR не меньше VaR по модулю убытка.
func CVaR(portfolio *models.Portfolio, panel *models.ClosePanel, confidence float64) float64 {
	tickers := heldInPanel(portfolio, panel)
	if len(tickers) == 0 {
		return 0
	}
	weights, total := positionWeights(portfolio, panel, tickers)
	if total == 0 {
		return 0
	}

	returns := make([][]float64, len(tickers))
	minLen := -1
	for i, t := range tickers {
		returns[i] = indicator.Returns(panel.Series(t))
		if minLen < 0 || len(returns[i]) < minLen {
			minLen = len(returns[i])
		}
	}
	if minLen <= 0 {
		return 0
	}

	// Проекция доходностей портфеля по весам позиций
	portReturns := make([]float64, minLen)
	for t := 0; t < minLen; t++ {
		for i := range tickers {
			series := returns[i]
			portReturns[t] += weights[i] * series[len(series)-minLen+t]
		}
	}

	cutoff := indicator.Quantile(portReturns, 1-confidence)
	var tailSum float64
	var tailN int
	for _, r := range portReturns {
		if r <= cutoff {
			tailSum += r
			tailN++
		}
	}
	if tailN == 0 {
		return 0
	}

	cvar := math.Abs(tailSum/float64(tailN)) * total
	if varMoney, _ := VaR(portfolio, panel, confidence); cvar < varMoney {
		cvar = varMoney
	}
	return cvar
}

// Impact описывает вклад одной позиции в стресс-сценарий
type Impact struct {
	Beta    float64
	DropPct float64
	Loss    float64
}

// StressTest оценивает убыток портфеля при шоке бенчмарка на shockPct
// (например -0.10). Бета каждой позиции считается к бенчмарку; при его
// отсутствии в панели берется равновзвешенная средняя доходность рынка.
func StressTest(portfolio *models.Portfolio, panel *models.ClosePanel, shockPct float64, benchmark string) (totalLoss float64, impacts map[string]Impact) {
	impacts = make(map[string]Impact)
	tickers := heldInPanel(portfolio, panel)
	if len(tickers) == 0 {
		return 0, impacts
	}

	var benchReturns []float64
	if series := panel.Series(benchmark); len(series) > 1 {
		benchReturns = indicator.Returns(series)
	} else {
		// Fallback: средняя доходность всех активов панели
		all, returns := indicator.PanelReturns(panel)
		if len(all) > 0 {
			benchReturns = make([]float64, len(returns[0]))
			for t := range benchReturns {
				for i := range returns {
					benchReturns[t] += returns[i][t]
				}
				benchReturns[t] /= float64(len(returns))
			}
		}
	}

	for _, t := range tickers {
		assetReturns := indicator.Returns(panel.Series(t))

		beta := 1.0
		n := len(assetReturns)
		if len(benchReturns) < n {
			n = len(benchReturns)
		}
		if n >= 2 {
			a := assetReturns[len(assetReturns)-n:]
			b := benchReturns[len(benchReturns)-n:]
			if v := indicator.Variance(b); v != 0 {
				beta = indicator.Covariance(a, b) / v
			}
		}

		drop := beta * shockPct
		value := portfolio.Positions[t].Qty * panel.Last(t)
		loss := value * drop
		impacts[t] = Impact{Beta: beta, DropPct: drop * 100, Loss: loss}
		totalLoss += loss
	}
	return totalLoss, impacts
}

// Типы опционов
const (
	OptionCall = "call"
	OptionPut  = "put"
)

// BlackScholes возвращает теоретическую цену и дельту опциона.
// Нулевая волатильность или нулевой срок дают (0, 0).
func BlackScholes(s, k, t, r, sigma float64, kind string) (price, delta float64) {
	if sigma == 0 || t == 0 {
		return 0, 0
	}
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)

	if kind == OptionCall {
		price = s*NormCDF(d1) - k*math.Exp(-r*t)*NormCDF(d2)
		delta = NormCDF(d1)
		return price, delta
	}
	price = k*math.Exp(-r*t)*NormCDF(-d2) - s*NormCDF(-d1)
	delta = NormCDF(d1) - 1
	return price, delta
}

// HedgePlan описывает защиту портфеля ATM-путами на индекс
type HedgePlan struct {
	AdjustedExposure float64
	PutPrice         float64
	PutDelta         float64
	PutsRequired     float64
	Cost             float64
	CostPct          float64
}

// Hedge рассчитывает количество путов для хеджирования портфеля.
// Нулевая дельта дает нулевое количество путов (вырожденный случай,
// а не деление на ноль).
func Hedge(portfolioValue, beta, indexPrice, indexVol, rate, horizonYears float64) HedgePlan {
	exposure := portfolioValue * beta
	price, delta := BlackScholes(indexPrice, indexPrice, horizonYears, rate, indexVol, OptionPut)

	var puts float64
	if math.Abs(delta) > 0 && indexPrice > 0 {
		puts = exposure / (indexPrice * math.Abs(delta))
	}

	cost := puts * price
	var costPct float64
	if portfolioValue > 0 {
		costPct = cost / portfolioValue * 100
	}
	return HedgePlan{
		AdjustedExposure: exposure,
		PutPrice:         price,
		PutDelta:         delta,
		PutsRequired:     puts,
		Cost:             cost,
		CostPct:          costPct,
	}
}

// PortfolioBeta рассчитывает взвешенную бету портфеля и предупреждения
// о концентрации (позиция свыше 25% капитала).
func PortfolioBeta(portfolio *models.Portfolio, panel *models.ClosePanel, betas map[string]float64) (beta float64, alerts []string) {
	total := portfolio.Cash
	values := make(map[string]float64)
	for t, pos := range portfolio.Positions {
		v := pos.Qty * panel.Last(t)
		values[t] = v
		total += v
	}
	if total == 0 {
		return 0, nil
	}
	for t, v := range values {
		share := v / total
		b, ok := betas[t]
		if !ok {
			b = 1.0
		}
		beta += share * b
		if share > 0.25 {
			alerts = append(alerts, fmt.Sprintf("КОНЦЕНТРАЦИЯ: %s (%.1f%%)", t, share*100))
		}
	}
	return beta, alerts
}
