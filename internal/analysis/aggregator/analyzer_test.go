package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skalibog/quantd/internal/analysis/fundamental"
	"github.com/skalibog/quantd/internal/analysis/oracle"
	"github.com/skalibog/quantd/internal/analysis/technical"
	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/pkg/models"
)

type fakeOracle struct {
	probs map[string]float64
	err   error
}

func (f *fakeOracle) Predict(ctx context.Context, ticker string, closes []float64) (oracle.Prediction, error) {
	if f.err != nil {
		return oracle.Prediction{}, f.err
	}
	return oracle.Prediction{Probability: f.probs[ticker]}, nil
}

func testScoring() config.ScoringConfig {
	return config.ScoringConfig{
		EquityTechnicalWeight:   0.3,
		EquityFundamentalWeight: 0.4,
		EquityOracleWeight:      0.3,
		OtherTechnicalWeight:    0.4,
		OtherOracleWeight:       0.6,
		ThresholdStrongBuy:      80,
		ThresholdBuy:            60,
		ThresholdCaution:        40,
		ThresholdStrongSell:     25,
		PenaltyPanic:            30,
		PenaltyFear:             15,
	}
}

func testTrading() config.TradingConfig {
	return config.TradingConfig{EquitySuffixes: []string{".SA"}}
}

func newTestAnalyzer(orc oracle.Oracle) *Analyzer {
	return NewAnalyzer(
		technical.NewAnalyzer(),
		fundamental.NewAnalyzer(nil),
		orc,
		nil,
		testScoring(),
		testTrading(),
	)
}

func calm() models.Regime {
	return models.Regime{Label: "НЕЙТРАЛЬНЫЙ", Severity: models.SeverityCalm}
}

func TestIsEquityBySuffix(t *testing.T) {
	a := newTestAnalyzer(&fakeOracle{})
	if !a.IsEquity("PETR4.SA") {
		t.Fatal("PETR4.SA должен определяться как акция")
	}
	if a.IsEquity("BTCUSDT") {
		t.Fatal("BTCUSDT не должен определяться как акция")
	}
}

func TestScoreNonEquityWeights(t *testing.T) {
	// Пустые свечи: техника 50. Оракул 100: 0.4*50 + 0.6*100 = 80
	a := newTestAnalyzer(&fakeOracle{probs: map[string]float64{"BTCUSDT": 100}})
	score := a.Score(context.Background(), "BTCUSDT", nil, calm())

	if score.Value != 80 {
		t.Fatalf("оценка %d, ожидалось 80", score.Value)
	}
	if score.Verdict != models.VerdictStrongBuy {
		t.Fatalf("вердикт %q, ожидалась сильная покупка", score.Verdict)
	}
	if score.Penalty != 0 {
		t.Fatalf("штраф %d в спокойном режиме", score.Penalty)
	}
}

func TestScoreEquityWeights(t *testing.T) {
	// Акция без источника фундаментала: все три компоненты 50 и 100
	// 0.3*50 + 0.4*50 + 0.3*100 = 65
	a := newTestAnalyzer(&fakeOracle{probs: map[string]float64{"PETR4.SA": 100}})
	score := a.Score(context.Background(), "PETR4.SA", nil, calm())

	if score.Value != 65 {
		t.Fatalf("оценка %d, ожидалось 65", score.Value)
	}
	if score.Verdict != models.VerdictBuy {
		t.Fatalf("вердикт %q, ожидалась покупка", score.Verdict)
	}
	if _, ok := score.Components["fundamental"]; !ok {
		t.Fatal("у акции должна быть фундаментальная компонента")
	}
}

func TestScoreMacroPenalty(t *testing.T) {
	a := newTestAnalyzer(&fakeOracle{probs: map[string]float64{"BTCUSDT": 100}})
	panicRegime := models.Regime{Label: "ПАНИКА", Severity: models.SeverityPanic}
	fear := models.Regime{Label: "СТРАХ", Severity: models.SeverityFear}

	if s := a.Score(context.Background(), "BTCUSDT", nil, panicRegime); s.Value != 50 || s.Penalty != 30 {
		t.Fatalf("паника: оценка %d штраф %d, ожидалось 50/30", s.Value, s.Penalty)
	}
	if s := a.Score(context.Background(), "BTCUSDT", nil, fear); s.Value != 65 || s.Penalty != 15 {
		t.Fatalf("страх: оценка %d штраф %d, ожидалось 65/15", s.Value, s.Penalty)
	}
}

func TestScoreOracleFailureNeutral(t *testing.T) {
	a := newTestAnalyzer(&fakeOracle{err: errors.New("connection refused")})
	score := a.Score(context.Background(), "BTCUSDT", nil, calm())

	// 0.4*50 + 0.6*50 = 50
	if score.Value != 50 {
		t.Fatalf("отказ оракула: %d, ожидалось 50", score.Value)
	}
	if score.Verdict != models.VerdictNeutral {
		t.Fatalf("вердикт %q, ожидался нейтральный", score.Verdict)
	}
}

func TestScoreClampedToBounds(t *testing.T) {
	a := newTestAnalyzer(&fakeOracle{probs: map[string]float64{"BTCUSDT": 0}})
	panicRegime := models.Regime{Severity: models.SeverityPanic}

	// 0.4*50 + 0.6*0 = 20, штраф 30 -> отрицательное сырое значение
	score := a.Score(context.Background(), "BTCUSDT", nil, panicRegime)
	if score.Value != 0 {
		t.Fatalf("оценка %d, ожидался 0 (нижняя граница)", score.Value)
	}
	if score.Verdict != models.VerdictStrongSell {
		t.Fatalf("вердикт %q, ожидалась сильная продажа", score.Verdict)
	}
}

func TestRankOpportunitiesOrder(t *testing.T) {
	a := newTestAnalyzer(&fakeOracle{probs: map[string]float64{
		"AAAUSDT": 100,
		"BBBUSDT": 50,
		"CCCUSDT": 0,
	}})
	universe := map[string][]models.Candle{
		"AAAUSDT": nil,
		"BBBUSDT": nil,
		"CCCUSDT": nil,
	}

	scores := a.RankOpportunities(context.Background(), universe, calm())
	if len(scores) != 3 {
		t.Fatalf("оценок %d, ожидалось 3", len(scores))
	}
	for i := 1; i < len(scores); i++ {
		if scores[i].Value > scores[i-1].Value {
			t.Fatalf("нарушен порядок убывания на позиции %d: %v", i, scores)
		}
	}
	if scores[0].Ticker != "AAAUSDT" {
		t.Fatalf("лучший актив %s, ожидался AAAUSDT", scores[0].Ticker)
	}
}

func TestScoreTimestampSet(t *testing.T) {
	a := newTestAnalyzer(&fakeOracle{})
	before := time.Now()
	score := a.Score(context.Background(), "BTCUSDT", nil, calm())
	if score.Timestamp.Before(before) {
		t.Fatal("временная метка оценки не установлена")
	}
}
