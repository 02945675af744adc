package optimizer

import (
	"math"
	"testing"
	"time"

	"github.com/skalibog/quantd/pkg/models"
)

func mkPanel(closes map[string][]float64) *models.ClosePanel {
	n := 0
	for _, s := range closes {
		n = len(s)
		break
	}
	dates := make([]time.Time, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = start.AddDate(0, 0, i)
	}
	return &models.ClosePanel{Dates: dates, Closes: closes}
}

// mkTestPanel: актив GOOD с устойчивым ростом и малым шумом,
// актив NOISY с чистым шумом без дрейфа
func mkTestPanel(n int) *models.ClosePanel {
	good := make([]float64, n)
	noisy := make([]float64, n)
	good[0], noisy[0] = 100, 100
	for i := 1; i < n; i++ {
		r := 0.005
		if i%2 == 0 {
			r = 0.001
		}
		good[i] = good[i-1] * (1 + r)

		rn := 0.01
		if i%2 == 0 {
			rn = -0.01
		}
		noisy[i] = noisy[i-1] * (1 + rn)
	}
	return mkPanel(map[string][]float64{"GOOD": good, "NOISY": noisy})
}

func TestMonteCarloEmptyPanel(t *testing.T) {
	res := MonteCarlo(&models.ClosePanel{}, 100, 1)
	if len(res.Samples) != 0 || len(res.Best.Weights) != 0 {
		t.Fatal("пустая панель должна давать пустой результат")
	}
}

func TestMonteCarloBestDominatesSamples(t *testing.T) {
	res := MonteCarlo(mkTestPanel(120), 500, 42)
	if len(res.Samples) != 500 {
		t.Fatalf("симуляций %d, ожидалось 500", len(res.Samples))
	}
	for i, s := range res.Samples {
		if s.Sharpe > res.Best.Sharpe {
			t.Fatalf("симуляция %d с Шарпом %.4f выше лучшего %.4f", i, s.Sharpe, res.Best.Sharpe)
		}
	}

	var sum float64
	for _, w := range res.Best.Weights {
		if w < 0 || w > 1 {
			t.Fatalf("вес %.4f вне [0, 1]", w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("сумма весов %.6f, ожидалась 1", sum)
	}
}

func TestMonteCarloSeedDeterminism(t *testing.T) {
	panel := mkTestPanel(120)
	a := MonteCarlo(panel, 300, 7)
	b := MonteCarlo(panel, 300, 7)
	if a.Best.Sharpe != b.Best.Sharpe || a.Best.Return != b.Best.Return {
		t.Fatal("одинаковый seed должен давать идентичный результат")
	}
	for ticker, w := range a.Best.Weights {
		if b.Best.Weights[ticker] != w {
			t.Fatalf("веса расходятся по %s", ticker)
		}
	}
}

func TestOptimizeWeightsValid(t *testing.T) {
	weights := Optimize(mkTestPanel(120))
	if len(weights) != 2 {
		t.Fatalf("активов %d, ожидалось 2", len(weights))
	}
	var sum float64
	for ticker, w := range weights {
		if w < 0 || w > 1 {
			t.Fatalf("%s: вес %.4f вне [0, 1]", ticker, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("сумма весов %.6f, ожидалась 1", sum)
	}
	// Актив с лучшим Шарпом получает больший вес
	if weights["GOOD"] <= weights["NOISY"] {
		t.Fatalf("GOOD %.4f не доминирует над NOISY %.4f", weights["GOOD"], weights["NOISY"])
	}
}

func TestOptimizeEmptyPanel(t *testing.T) {
	if weights := Optimize(&models.ClosePanel{}); len(weights) != 0 {
		t.Fatal("пустая панель должна давать пустую карту весов")
	}
}

func TestRebalancePlan(t *testing.T) {
	panel := mkPanel(map[string][]float64{
		"XXX": {100, 100, 100},
		"YYY": {50, 50, 50},
	})
	portfolio := &models.Portfolio{
		Cash: 1000,
		Positions: map[string]models.Position{
			"XXX": {Qty: 10, AvgPrice: 100}, // 1000, 50% капитала
		},
	}
	targets := map[string]float64{"XXX": 25, "YYY": 25}

	plan := RebalancePlan(portfolio, targets, panel, 1.0)
	if len(plan) != 2 {
		t.Fatalf("строк плана %d, ожидалось 2", len(plan))
	}

	byTicker := make(map[string]Order)
	for _, o := range plan {
		byTicker[o.Ticker] = o
	}

	sell := byTicker["XXX"]
	if sell.Action != ActionSell || sell.Qty != 5 {
		t.Fatalf("XXX: %s %d, ожидалось ПРОДАТЬ 5", sell.Action, sell.Qty)
	}
	buy := byTicker["YYY"]
	if buy.Action != ActionBuy || buy.Qty != 10 {
		t.Fatalf("YYY: %s %d, ожидалось КУПИТЬ 10", buy.Action, buy.Qty)
	}
}

func TestRebalancePlanSmallDeviationHeld(t *testing.T) {
	panel := mkPanel(map[string][]float64{"XXX": {100, 100}})
	portfolio := &models.Portfolio{
		Cash: 0,
		Positions: map[string]models.Position{
			"XXX": {Qty: 10, AvgPrice: 100},
		},
	}
	// Текущая доля 100%, цель 99.5%: отклонение меньше порога
	plan := RebalancePlan(portfolio, map[string]float64{"XXX": 99.5}, panel, 1.0)
	if len(plan) != 1 || plan[0].Action != ActionHold {
		t.Fatalf("малое отклонение должно давать ДЕРЖАТЬ, получено %+v", plan)
	}
}
