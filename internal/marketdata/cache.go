package marketdata

import (
	"context"

	"go.uber.org/zap"

	"github.com/skalibog/quantd/pkg/logger"
	"github.com/skalibog/quantd/pkg/models"
)

// CandleCache — приемник и резервный источник дневных свечей
type CandleCache interface {
	SaveCandles(ctx context.Context, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error)
}

// CachedFeed оборачивает источник данных кэшем свечей: успешные загрузки
// пишутся в кэш, при отказе источника история читается из кэша.
// Ошибки кэша никогда не ломают путь данных.
type CachedFeed struct {
	inner Feed
	cache CandleCache
}

// NewCachedFeed создает источник с кэшем свечей
func NewCachedFeed(inner Feed, cache CandleCache) *CachedFeed {
	return &CachedFeed{inner: inner, cache: cache}
}

// Detail получает свечи из источника, при отказе — из кэша
func (f *CachedFeed) Detail(ctx context.Context, ticker string, days int) ([]models.Candle, error) {
	candles, err := f.inner.Detail(ctx, ticker, days)
	if err != nil {
		cached, cacheErr := f.cache.GetCandles(ctx, ticker, days)
		if cacheErr != nil || len(cached) == 0 {
			return nil, err
		}
		logger.Warn("Источник недоступен, свечи взяты из кэша",
			zap.String("ticker", ticker),
			zap.Int("candles", len(cached)),
			zap.Error(err))
		return cached, nil
	}

	if err := f.cache.SaveCandles(ctx, candles); err != nil {
		logger.Warn("Ошибка записи свечей в кэш",
			zap.String("ticker", ticker), zap.Error(err))
	}
	return candles, nil
}

// Multi собирает панель закрытий через кэширующий Detail
func (f *CachedFeed) Multi(ctx context.Context, tickers []string, days int) (models.ClosePanel, error) {
	series := make(map[string][]models.Candle, len(tickers))
	for _, ticker := range tickers {
		candles, err := f.Detail(ctx, ticker, days)
		if err != nil {
			return models.ClosePanel{}, err
		}
		series[ticker] = candles
	}
	return AlignPanel(series), nil
}

// LastPrice передается источнику без кэширования: кэш хранит только
// закрытые дневные свечи и не годится для текущей цены
func (f *CachedFeed) LastPrice(ctx context.Context, ticker string) float64 {
	return f.inner.LastPrice(ctx, ticker)
}

var _ Feed = (*CachedFeed)(nil)
