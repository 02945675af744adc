package backtest

// Strategy — закрытое перечисление торговых стратегий движка.
// Добавление нового вида не меняет выходы существующих: каждый вид
// оценивается независимой ветвью исчерпывающего switch.
type Strategy int

const (
	// StrategyReversion — возврат к среднему по RSI (вход <30, выход >70)
	StrategyReversion Strategy = iota
	// StrategyCrossover — пересечение SMA50/SMA200 (golden/death cross)
	StrategyCrossover
	// StrategyVolatilityBand — реверсия от полос волатильности (20, 2σ)
	StrategyVolatilityBand
	// StrategyMomentumFlip — разворот EMA9 по двум предыдущим барам
	StrategyMomentumFlip
)

// String возвращает человекочитаемое имя стратегии
func (s Strategy) String() string {
	switch s {
	case StrategyReversion:
		return "RSI Reversion"
	case StrategyCrossover:
		return "SMA Crossover"
	case StrategyVolatilityBand:
		return "Volatility Band"
	case StrategyMomentumFlip:
		return "Momentum Flip"
	}
	return "unknown"
}

// Signal — решение стратегии на баре
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

// frame — предрассчитанные индикаторы одного бара
type frame struct {
	close   float64
	rsi     float64
	sma50   float64
	sma200  float64
	bbUpper float64
	bbLower float64
	ema9    float64
}

// evaluate отображает окно из текущего и двух предыдущих баров в сигнал
func (s Strategy) evaluate(today, prev, prev2 frame) Signal {
	switch s {
	case StrategyReversion:
		if today.rsi < 30 {
			return Buy
		}
		if today.rsi > 70 {
			return Sell
		}

	case StrategyCrossover:
		if prev.sma50 < prev.sma200 && today.sma50 > today.sma200 {
			return Buy
		}
		if prev.sma50 > prev.sma200 && today.sma50 < today.sma200 {
			return Sell
		}

	case StrategyVolatilityBand:
		if today.close < today.bbLower {
			return Buy
		}
		if today.close > today.bbUpper {
			return Sell
		}

	case StrategyMomentumFlip:
		if prev2.ema9 > prev.ema9 && today.ema9 > prev.ema9 {
			return Buy
		}
		if prev2.ema9 < prev.ema9 && today.ema9 < prev.ema9 {
			return Sell
		}
	}
	return Hold
}

// Strategies перечисляет все поддерживаемые стратегии
func Strategies() []Strategy {
	return []Strategy{StrategyReversion, StrategyCrossover, StrategyVolatilityBand, StrategyMomentumFlip}
}
