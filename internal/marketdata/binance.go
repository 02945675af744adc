package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/pkg/models"
)

// Feed — источник рыночных данных для ядра.
// Detail отдает полный OHLCV одного актива, Multi — выровненную панель
// закрытий нескольких активов, LastPrice — последнюю цену (0 при отказе).
type Feed interface {
	Detail(ctx context.Context, ticker string, days int) ([]models.Candle, error)
	Multi(ctx context.Context, tickers []string, days int) (models.ClosePanel, error)
	LastPrice(ctx context.Context, ticker string) float64
}

// BinanceFeed — реализация Feed поверх спот-API Binance
type BinanceFeed struct {
	spot *binance.Client
}

// NewBinanceFeed создает новый источник данных Binance
func NewBinanceFeed(cfg config.BinanceConfig) (*BinanceFeed, error) {
	spotClient := binance.NewClient(cfg.APIKey, cfg.APISecret)

	if cfg.Testnet {
		spotClient.SetApiEndpoint("https://testnet.binance.vision")
	}

	return &BinanceFeed{spot: spotClient}, nil
}

// Detail получает дневные свечи одного актива
func (f *BinanceFeed) Detail(ctx context.Context, ticker string, days int) ([]models.Candle, error) {
	klines, err := f.spot.NewKlinesService().
		Symbol(ticker).
		Interval("1d").
		Limit(days).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей %s: %w", ticker, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(ticker, k)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// Multi получает панель закрытий нескольких активов, выровненную по датам.
// Пропуски заполняются последней известной ценой.
func (f *BinanceFeed) Multi(ctx context.Context, tickers []string, days int) (models.ClosePanel, error) {
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

// LastPrice получает последнюю цену актива. Отказ источника дает 0:
// вызывающая сторона обязана трактовать 0 как "цена недоступна".
func (f *BinanceFeed) LastPrice(ctx context.Context, ticker string) float64 {
	prices, err := f.spot.NewListPricesService().Symbol(ticker).Do(ctx)
	if err != nil || len(prices) == 0 {
		return 0
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0
	}
	return price
}

func parseKline(ticker string, k *binance.Kline) (models.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("ошибка разбора свечи %s: %w", ticker, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("ошибка разбора свечи %s: %w", ticker, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("ошибка разбора свечи %s: %w", ticker, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("ошибка разбора свечи %s: %w", ticker, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("ошибка разбора свечи %s: %w", ticker, err)
	}

	return models.Candle{
		Symbol:    ticker,
		OpenTime:  time.Unix(k.OpenTime/1000, 0),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		CloseTime: time.Unix(k.CloseTime/1000, 0),
	}, nil
}

var _ Feed = (*BinanceFeed)(nil)
