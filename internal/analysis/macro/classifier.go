package macro

import (
	"context"

	"go.uber.org/zap"

	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/pkg/logger"
	"github.com/skalibog/quantd/pkg/models"
)

// PanelSource — поставщик выровненной панели закрытий макро-инструментов
type PanelSource interface {
	Multi(ctx context.Context, tickers []string, days int) (models.ClosePanel, error)
}

// Classifier определяет макроэкономический режим по панели из четырех
// инструментов: широкий рынок акций, ставки, доллар и индекс волатильности.
type Classifier struct {
	source PanelSource
	cfg    config.MacroConfig
}

// NewClassifier создает классификатор макро-режима
func NewClassifier(source PanelSource, cfg config.MacroConfig) *Classifier {
	return &Classifier{source: source, cfg: cfg}
}

// Calm — нейтральный режим, используется при недоступности данных.
// Недоступность макро-панели никогда не блокирует скоринг: штраф просто
// не применяется.
func Calm() models.Regime {
	return models.Regime{
		Label:       "НЕЙТРАЛЬНЫЙ",
		Explanation: "Макро-данные недоступны, штраф не применяется",
		Severity:    models.SeverityCalm,
	}
}

// Classify вычисляет текущий режим. Приоритет правил строгий:
// паника по волатильности перекрывает все остальные.
func (c *Classifier) Classify(ctx context.Context) models.Regime {
	tickers := []string{c.cfg.Equities, c.cfg.Rates, c.cfg.Dollar, c.cfg.Volatility}
	for _, t := range tickers {
		if t == "" {
			logger.Warn("Макро-панель не настроена, режим нейтральный")
			return Calm()
		}
	}

	panel, err := c.source.Multi(ctx, tickers, c.cfg.Lookback*2)
	if err != nil {
		logger.Warn("Ошибка загрузки макро-панели", zap.Error(err))
		return Calm()
	}

	if vix := panel.Last(c.cfg.Volatility); vix > 30 {
		return models.Regime{
			Label:       "ПАНИКА",
			Explanation: "Индекс волатильности выше 30: рынок в режиме страха",
			Severity:    models.SeverityPanic,
		}
	}

	equitiesUp, eqOK := c.trend(panel, c.cfg.Equities)
	ratesUp, rtOK := c.trend(panel, c.cfg.Rates)
	if !eqOK || !rtOK {
		logger.Warn("Недостаточно истории для макро-тренда, режим нейтральный",
			zap.Int("lookback", c.cfg.Lookback))
		return Calm()
	}
	dollarUp, dlOK := c.trend(panel, c.cfg.Dollar)

	switch {
	case equitiesUp && !ratesUp:
		return models.Regime{
			Label:       "GOLDILOCKS",
			Explanation: "Акции растут при снижении ставок: благоприятный режим",
			Severity:    models.SeverityCalm,
		}
	case !equitiesUp && ratesUp:
		return models.Regime{
			Label:       "СТРАХ ИНФЛЯЦИИ",
			Explanation: "Акции падают при росте ставок: рынок боится инфляции",
			Severity:    models.SeverityFear,
		}
	case !equitiesUp && !ratesUp:
		explanation := "Акции и ставки падают вместе: рынок боится рецессии"
		if dlOK && dollarUp {
			explanation += ", доллар укрепляется как убежище"
		}
		return models.Regime{
			Label:       "СТРАХ РЕЦЕССИИ",
			Explanation: explanation,
			Severity:    models.SeverityFear,
		}
	default:
		return models.Regime{
			Label:       "РЕФЛЯЦИЯ",
			Explanation: "Акции и ставки растут вместе: экономика ускоряется",
			Severity:    models.SeverityCalm,
		}
	}
}

// trend сравнивает последнее закрытие со значением lookback баров назад
func (c *Classifier) trend(panel models.ClosePanel, ticker string) (up bool, ok bool) {
	series := panel.Series(ticker)
	if len(series) <= c.cfg.Lookback {
		return false, false
	}
	last := series[len(series)-1]
	base := series[len(series)-1-c.cfg.Lookback]
	if base == 0 {
		return false, false
	}
	return last > base, true
}
