package optimizer

import (
	"math"
	"math/rand"

	"github.com/skalibog/quantd/internal/indicator"
	"github.com/skalibog/quantd/pkg/models"
)

// Годовой коэффициент: торговых дней в году
const tradingDays = 252

// Allocation — одно распределение весов с его метриками
type Allocation struct {
	Weights    map[string]float64
	Return     float64
	Volatility float64
	Sharpe     float64
}

// Sample — метрики одной случайной симуляции
type Sample struct {
	Return     float64
	Volatility float64
	Sharpe     float64
}

// Result — итог симуляции Монте-Карло
type Result struct {
	Samples []Sample
	Best    Allocation
}

// annualize готовит годовые ожидаемые доходности и ковариацию панели
func annualize(panel *models.ClosePanel) (tickers []string, meanAnnual []float64, covAnnual [][]float64) {
	tickers, returns := indicator.PanelReturns(panel)
	if len(tickers) == 0 {
		return nil, nil, nil
	}
	meanAnnual = make([]float64, len(tickers))
	for i := range tickers {
		meanAnnual[i] = indicator.Mean(returns[i]) * tradingDays
	}
	covAnnual = indicator.CovMatrix(returns)
	for i := range covAnnual {
		for j := range covAnnual[i] {
			covAnnual[i][j] *= tradingDays
		}
	}
	return tickers, meanAnnual, covAnnual
}

// stats считает годовую доходность, волатильность и Шарп (rf = 0)
func stats(weights, meanAnnual []float64, covAnnual [][]float64) (ret, vol, sharpe float64) {
	for i, w := range weights {
		ret += w * meanAnnual[i]
	}
	var variance float64
	for i := range weights {
		for j := range weights {
			variance += weights[i] * covAnnual[i][j] * weights[j]
		}
	}
	if variance > 0 {
		vol = math.Sqrt(variance)
	}
	if vol > 0 {
		sharpe = ret / vol
	}
	return ret, vol, sharpe
}

// MonteCarlo ищет веса с максимальным Шарпом случайным перебором.
// Это приближенный поиск, а не гарантированный глобальный оптимум:
// качество растет с числом симуляций, детерминизм задается seed.
// Пустая панель дает пустой результат, а не ошибку.
func MonteCarlo(panel *models.ClosePanel, n int, seed int64) *Result {
	res := &Result{Best: Allocation{Weights: map[string]float64{}}}
	tickers, meanAnnual, covAnnual := annualize(panel)
	if len(tickers) == 0 || n <= 0 {
		return res
	}

	rng := rand.New(rand.NewSource(seed))
	res.Samples = make([]Sample, 0, n)
	bestSharpe := math.Inf(-1)
	bestWeights := make([]float64, len(tickers))

	weights := make([]float64, len(tickers))
	for i := 0; i < n; i++ {
		var sum float64
		for j := range weights {
			weights[j] = rng.Float64()
			sum += weights[j]
		}
		for j := range weights {
			weights[j] /= sum
		}

		ret, vol, sharpe := stats(weights, meanAnnual, covAnnual)
		res.Samples = append(res.Samples, Sample{Return: ret, Volatility: vol, Sharpe: sharpe})

		if sharpe > bestSharpe {
			bestSharpe = sharpe
			copy(bestWeights, weights)
			res.Best.Return = ret
			res.Best.Volatility = vol
			res.Best.Sharpe = sharpe
		}
	}

	for i, t := range tickers {
		res.Best.Weights[t] = bestWeights[i]
	}
	return res
}

// Optimize минимизирует отрицательный Шарп при ограничениях
// w ∈ [0,1], Σw = 1: численный градиент + проекция на симплекс.
// Дает "идеальные" целевые веса независимо от выборки Монте-Карло.
// Пустая панель дает пустую карту весов.
func Optimize(panel *models.ClosePanel) map[string]float64 {
	tickers, meanAnnual, covAnnual := annualize(panel)
	if len(tickers) == 0 {
		return map[string]float64{}
	}
	n := len(tickers)

	negSharpe := func(w []float64) float64 {
		_, _, sharpe := stats(w, meanAnnual, covAnnual)
		return -sharpe
	}

	// Старт с равных весов
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}

	grad := make([]float64, n)
	trial := make([]float64, n)
	const (
		iterations = 800
		eps        = 1e-6
	)
	step := 0.1

	for iter := 0; iter < iterations; iter++ {
		base := negSharpe(w)
		for i := range w {
			copy(trial, w)
			trial[i] += eps
			project(trial)
			grad[i] = (negSharpe(trial) - base) / eps
		}
		for i := range w {
			w[i] -= step * grad[i]
		}
		project(w)
		step *= 0.995
	}

	out := make(map[string]float64, n)
	for i, t := range tickers {
		out[t] = w[i]
	}
	return out
}

// project возвращает вектор на допустимое множество: [0,1] и сумма 1
func project(w []float64) {
	var sum float64
	for i := range w {
		if w[i] < 0 {
			w[i] = 0
		}
		if w[i] > 1 {
			w[i] = 1
		}
		sum += w[i]
	}
	if sum == 0 {
		for i := range w {
			w[i] = 1.0 / float64(len(w))
		}
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

// Действия плана ребалансировки
const (
	ActionBuy  = "КУПИТЬ"
	ActionSell = "ПРОДАТЬ"
	ActionHold = "ДЕРЖАТЬ"
)

// Order — одна строка плана ребалансировки
type Order struct {
	Ticker       string
	Action       string
	Qty          int
	Price        float64
	Value        float64
	CurrentPct   float64
	TargetPct    float64
	DeviationPct float64
}

// RebalancePlan сравнивает портфель с целевыми весами (в процентах) и
// формирует ордера, закрывающие отклонения больше minDeviation процентов
// капитала. Мелкие отклонения помечаются как ДЕРЖАТЬ.
func RebalancePlan(portfolio *models.Portfolio, targets map[string]float64, panel *models.ClosePanel, minDeviation float64) []Order {
	total := portfolio.Cash
	values := make(map[string]float64)
	for t, pos := range portfolio.Positions {
		price := panel.Last(t)
		if price == 0 {
			price = pos.AvgPrice
		}
		values[t] = pos.Qty * price
		total += values[t]
	}
	if total == 0 {
		return nil
	}

	var plan []Order
	for t, targetPct := range targets {
		price := panel.Last(t)
		if price == 0 {
			// Без цены ребалансировать нечем
			continue
		}

		current := values[t]
		targetVal := total * targetPct / 100
		diff := targetVal - current
		deviationPct := diff / total * 100

		order := Order{
			Ticker:       t,
			Action:       ActionHold,
			Price:        price,
			CurrentPct:   current / total * 100,
			TargetPct:    targetPct,
			DeviationPct: deviationPct,
		}
		if math.Abs(deviationPct) > minDeviation {
			qty := int(diff / price)
			if qty > 0 {
				order.Action = ActionBuy
			} else if qty < 0 {
				order.Action = ActionSell
			}
			order.Qty = int(math.Abs(float64(qty)))
			order.Value = math.Abs(float64(qty)) * price
		}
		plan = append(plan, order)
	}
	return plan
}
