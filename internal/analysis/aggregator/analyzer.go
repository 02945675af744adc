package aggregator

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/quantd/internal/analysis/fundamental"
	"github.com/skalibog/quantd/internal/analysis/oracle"
	"github.com/skalibog/quantd/internal/analysis/technical"
	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/pkg/logger"
	"github.com/skalibog/quantd/pkg/models"
)

// ScoreArchive — необязательный приемник истории оценок.
// Ошибки записи не влияют на результат скоринга.
type ScoreArchive interface {
	SaveScore(ctx context.Context, score models.Score) error
}

// Analyzer объединяет суб-оценки в итоговую оценку 0-100.
// Веса зависят от класса актива: для акций участвует фундаментальный
// анализ, для остальных классов — только техника и оракул.
type Analyzer struct {
	technical   *technical.Analyzer
	fundamental *fundamental.Analyzer
	oracle      oracle.Oracle
	archive     ScoreArchive

	scoring config.ScoringConfig
	trading config.TradingConfig
}

// NewAnalyzer создает агрегатор оценок. archive может быть nil.
func NewAnalyzer(
	tech *technical.Analyzer,
	fund *fundamental.Analyzer,
	orc oracle.Oracle,
	archive ScoreArchive,
	scoring config.ScoringConfig,
	trading config.TradingConfig,
) *Analyzer {
	return &Analyzer{
		technical:   tech,
		fundamental: fund,
		oracle:      orc,
		archive:     archive,
		scoring:     scoring,
		trading:     trading,
	}
}

// IsEquity определяет, относится ли тикер к акциям, по суффиксу
func (a *Analyzer) IsEquity(ticker string) bool {
	for _, suffix := range a.trading.EquitySuffixes {
		if strings.HasSuffix(ticker, suffix) {
			return true
		}
	}
	return false
}

// Score вычисляет итоговую оценку актива за текущий цикл.
// Суб-оценки собираются параллельно; отказ любого анализатора
// деградирует его вклад до нейтральных 50.
func (a *Analyzer) Score(ctx context.Context, ticker string, candles []models.Candle, regime models.Regime) models.Score {
	price := 0.0
	if len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}

	isEquity := a.IsEquity(ticker)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		components = make(map[string]float64)
	)
	collect := func(name string, value float64) {
		mu.Lock()
		components[name] = value
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		collect("technical", a.technical.Analyze(candles))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		collect("oracle", a.oracleScore(ctx, ticker, candles))
	}()

	if isEquity {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collect("fundamental", a.fundamental.Analyze(ctx, ticker, price))
		}()
	}

	wg.Wait()

	var raw float64
	if isEquity {
		raw = components["technical"]*a.scoring.EquityTechnicalWeight +
			components["fundamental"]*a.scoring.EquityFundamentalWeight +
			components["oracle"]*a.scoring.EquityOracleWeight
	} else {
		raw = components["technical"]*a.scoring.OtherTechnicalWeight +
			components["oracle"]*a.scoring.OtherOracleWeight
	}

	penalty := a.penalty(regime)
	value := int(math.Round(raw)) - penalty
	if value < 0 {
		value = 0
	}
	if value > 100 {
		value = 100
	}

	score := models.Score{
		Ticker:     ticker,
		Timestamp:  time.Now(),
		Price:      price,
		Value:      value,
		Verdict:    a.verdict(value),
		Components: components,
		Penalty:    penalty,
	}

	if a.archive != nil {
		if err := a.archive.SaveScore(ctx, score); err != nil {
			logger.Warn("Ошибка записи оценки в архив",
				zap.String("ticker", ticker), zap.Error(err))
		}
	}

	return score
}

// RankOpportunities оценивает набор активов параллельно и возвращает
// оценки по убыванию значения
func (a *Analyzer) RankOpportunities(ctx context.Context, universe map[string][]models.Candle, regime models.Regime) []models.Score {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		scores = make([]models.Score, 0, len(universe))
	)

	for ticker, candles := range universe {
		wg.Add(1)
		go func(ticker string, candles []models.Candle) {
			defer wg.Done()
			score := a.Score(ctx, ticker, candles, regime)
			mu.Lock()
			scores = append(scores, score)
			mu.Unlock()
		}(ticker, candles)
	}
	wg.Wait()

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Value != scores[j].Value {
			return scores[i].Value > scores[j].Value
		}
		return scores[i].Ticker < scores[j].Ticker
	})
	return scores
}

// oracleScore запрашивает оракул, деградируя к нейтральным 50 при отказе
func (a *Analyzer) oracleScore(ctx context.Context, ticker string, candles []models.Candle) float64 {
	if a.oracle == nil {
		return 50
	}
	closes := models.Closes(candles)
	prediction, err := a.oracle.Predict(ctx, ticker, closes)
	if err != nil {
		logger.Warn("Оракул недоступен, вклад нейтральный",
			zap.String("ticker", ticker), zap.Error(err))
		return 50
	}
	if prediction.Staleness > 24*time.Hour {
		logger.Warn("Модель оракула устарела",
			zap.String("ticker", ticker),
			zap.Duration("staleness", prediction.Staleness),
			zap.Float64("accuracy", prediction.Accuracy))
	}
	if prediction.Probability < 0 {
		return 0
	}
	if prediction.Probability > 100 {
		return 100
	}
	return prediction.Probability
}

// penalty возвращает макро-штраф по серьезности режима
func (a *Analyzer) penalty(regime models.Regime) int {
	switch regime.Severity {
	case models.SeverityPanic:
		return a.scoring.PenaltyPanic
	case models.SeverityFear:
		return a.scoring.PenaltyFear
	default:
		return 0
	}
}

// verdict переводит числовую оценку в вердикт по порогам
func (a *Analyzer) verdict(value int) string {
	s := a.scoring
	switch {
	case value >= s.ThresholdStrongBuy:
		return models.VerdictStrongBuy
	case value >= s.ThresholdBuy:
		return models.VerdictBuy
	case value <= s.ThresholdStrongSell:
		return models.VerdictStrongSell
	case value <= s.ThresholdCaution:
		return models.VerdictCaution
	default:
		return models.VerdictNeutral
	}
}
