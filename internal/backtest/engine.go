package backtest

import (
	"math"
	"time"

	"github.com/skalibog/quantd/internal/indicator"
	"github.com/skalibog/quantd/pkg/models"
)

// Единый прогрев для всех стратегий: 200 баров на SMA200 плюс два
// предыдущих бара окна оценки. Благодаря этому длина кривой капитала
// не зависит от выбранной стратегии.
const warmupBars = 201

// Trade — одна сделка симуляции
type Trade struct {
	Date  time.Time
	Side  string
	Price float64
	Qty   int
	PnL   float64
}

// Result — итог одного прогона бэктеста; после создания не изменяется
type Result struct {
	Strategy       Strategy
	Dates          []time.Time
	StrategyEquity []float64
	BuyHoldEquity  []float64
	Trades         []Trade
	ReturnPct      float64
	BenchmarkPct   float64
}

// Run прогоняет стратегию бар за баром по серии свечей.
// Модель исполнения: long-only, одна позиция, покупка на весь кэш по
// закрытию бара, продажа всей позиции по закрытию. Полностью
// детерминирован: одинаковые вход и капитал дают идентичный результат.
func Run(candles []models.Candle, strategy Strategy, capital float64) *Result {
	res := &Result{Strategy: strategy}
	if len(candles) <= warmupBars || capital <= 0 {
		return res
	}

	closes := models.Closes(candles)
	frames := prepare(candles, closes)

	cash := capital
	position := 0
	entryPrice := 0.0

	for i := warmupBars; i < len(candles); i++ {
		today := frames[i]
		price := today.close
		date := candles[i].OpenTime

		signal := strategy.evaluate(today, frames[i-1], frames[i-2])

		switch {
		case signal == Buy && position == 0 && cash > 0:
			qty := int(math.Floor(cash / price))
			if qty > 0 {
				cash -= float64(qty) * price
				position = qty
				entryPrice = price
				res.Trades = append(res.Trades, Trade{Date: date, Side: models.SideBuy, Price: price, Qty: qty})
			}

		case signal == Sell && position > 0:
			proceeds := float64(position) * price
			pnl := (price - entryPrice) * float64(position)
			cash += proceeds
			res.Trades = append(res.Trades, Trade{Date: date, Side: models.SideSell, Price: price, Qty: position, PnL: pnl})
			position = 0
		}

		// Переоценка по рынку на каждом баре, независимо от сигнала
		res.Dates = append(res.Dates, date)
		res.StrategyEquity = append(res.StrategyEquity, cash+float64(position)*price)
	}

	// Бенчмарк buy-and-hold: фиксированное число акций с первого бара
	first := closes[warmupBars]
	bhQty := int(math.Floor(capital / first))
	leftover := capital - float64(bhQty)*first
	res.BuyHoldEquity = make([]float64, len(res.StrategyEquity))
	for i := range res.BuyHoldEquity {
		res.BuyHoldEquity[i] = float64(bhQty)*closes[warmupBars+i] + leftover
	}

	last := res.StrategyEquity[len(res.StrategyEquity)-1]
	res.ReturnPct = (last - capital) / capital * 100
	bhLast := res.BuyHoldEquity[len(res.BuyHoldEquity)-1]
	res.BenchmarkPct = (bhLast - capital) / capital * 100

	return res
}

// prepare предрассчитывает индикаторы всех стратегий для каждого бара
func prepare(candles []models.Candle, closes []float64) []frame {
	rsi := indicator.RSI(closes, 14)
	sma50 := indicator.SMA(closes, 50)
	sma200 := indicator.SMA(closes, 200)
	sma20 := indicator.SMA(closes, 20)
	std20 := indicator.StdDev(closes, 20)
	ema9 := indicator.EMA(closes, 9)

	frames := make([]frame, len(candles))
	for i := range candles {
		frames[i] = frame{
			close:   closes[i],
			rsi:     rsi[i],
			sma50:   sma50[i],
			sma200:  sma200[i],
			bbUpper: sma20[i] + 2*std20[i],
			bbLower: sma20[i] - 2*std20[i],
			ema9:    ema9[i],
		}
	}
	return frames
}
