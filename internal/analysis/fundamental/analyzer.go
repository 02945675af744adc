package fundamental

import (
	"context"
	"math"

	"github.com/skalibog/quantd/pkg/logger"
	"github.com/skalibog/quantd/pkg/models"
	"go.uber.org/zap"
)

// Source — внешний поставщик фундаментальных данных эмитента
type Source interface {
	Fundamentals(ctx context.Context, ticker string) (models.Fundamentals, error)
}

// Graham рассчитывает внутреннюю стоимость по формуле Грэма:
// VI = sqrt(22.5 * EPS * BVPS).
// Для убыточных компаний и отрицательного капитала (EPS <= 0 или
// BVPS <= 0) оценки нет — возвращается ровно 0.
func Graham(eps, bvps float64) float64 {
	if eps <= 0 || bvps <= 0 {
		return 0.0
	}
	return math.Sqrt(22.5 * eps * bvps)
}

// Analyzer оценивает фундаментальную привлекательность акции 0-100
type Analyzer struct {
	source Source
}

// NewAnalyzer создает новый фундаментальный анализатор
func NewAnalyzer(source Source) *Analyzer {
	return &Analyzer{source: source}
}

// Analyze возвращает фундаментальный суб-скор (базовая линия 50).
// Отказ поставщика данных деградирует в нейтральные 50, а не в ошибку.
func (a *Analyzer) Analyze(ctx context.Context, ticker string, price float64) float64 {
	if a.source == nil || price <= 0 {
		return 50
	}

	data, err := a.source.Fundamentals(ctx, ticker)
	if err != nil {
		logger.Warn("Фундаментальные данные недоступны",
			zap.String("ticker", ticker), zap.Error(err))
		return 50
	}

	score := 50.0

	// Дисконт к стоимости по Грэму
	if vi := Graham(data.EPS, data.BookValue); vi > 0 {
		upside := vi/price - 1
		switch {
		case upside > 0.40:
			score += 25
		case upside > 0.15:
			score += 15
		case upside < -0.20:
			score -= 15
		}
	}

	if data.DividendYield > 0.08 {
		score += 15
	}
	if data.ROE > 0.15 {
		score += 10
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
