package models

import (
	"time"
)

// Candle представляет дневную свечу актива
type Candle struct {
	Symbol    string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// HasRange сообщает, содержит ли серия данные High/Low.
// Серия "только Close" хранит нули в остальных полях.
func HasRange(candles []Candle) bool {
	for _, c := range candles {
		if c.High != 0 || c.Low != 0 {
			return true
		}
	}
	return false
}

// HasVolume сообщает, содержит ли серия данные об объеме
func HasVolume(candles []Candle) bool {
	for _, c := range candles {
		if c.Volume != 0 {
			return true
		}
	}
	return false
}

// Closes извлекает цены закрытия из серии свечей
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Position представляет открытую позицию по активу
type Position struct {
	Qty      float64
	AvgPrice float64
	Stop     float64
	Take     float64
}

// Portfolio представляет снимок портфеля: кэш + позиции.
// Изменяется только через атомарные операции хранилища.
type Portfolio struct {
	Cash      float64
	Positions map[string]Position
}

// Held возвращает список активов с открытой позицией
func (p *Portfolio) Held() []string {
	out := make([]string, 0, len(p.Positions))
	for ticker := range p.Positions {
		out = append(out, ticker)
	}
	return out
}

// Стороны сделки
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade представляет строку журнала сделок (append-only)
type Trade struct {
	ID          int64
	Timestamp   time.Time
	Ticker      string
	Side        string
	Qty         float64
	Price       float64
	Total       float64
	Note        string
	RealizedPnL float64
}

// Signal представляет зафиксированный торговый сигнал.
// Инвариант: не более одного сигнала на (актив, сетап, календарный день).
type Signal struct {
	ID     int64
	Ticker string
	Setup  string
	Date   time.Time
	Price  float64
	Status string
}

// Вердикты скоринга
const (
	VerdictStrongBuy  = "СИЛЬНАЯ ПОКУПКА"
	VerdictBuy        = "ПОКУПКА"
	VerdictNeutral    = "НЕЙТРАЛЬНО"
	VerdictCaution    = "ПРОДАЖА/ОСТОРОЖНО"
	VerdictStrongSell = "СИЛЬНАЯ ПРОДАЖА"
)

// Score представляет итоговую оценку актива за один цикл.
// Эфемерен: пересчитывается каждый цикл и не является авторитетным состоянием.
type Score struct {
	Ticker     string
	Timestamp  time.Time
	Price      float64
	Value      int
	Verdict    string
	Components map[string]float64
	Penalty    int
}

// Уровни серьезности макро-режима
const (
	SeverityCalm  = 0
	SeverityFear  = 1
	SeverityPanic = 2
)

// Regime представляет классификацию макро-режима рынка.
// Потребляется скорингом, никогда не изменяется им.
type Regime struct {
	Label       string
	Explanation string
	Severity    int
}

// Fundamentals представляет фундаментальные данные эмитента
type Fundamentals struct {
	Ticker        string
	EPS           float64 // прибыль на акцию
	BookValue     float64 // балансовая стоимость на акцию
	DividendYield float64 // доля, не проценты
	ROE           float64 // доля, не проценты
	NetMargin     float64
	Name          string
}

// ClosePanel представляет выровненную по датам таблицу цен закрытия.
// Пропуски заполняются последней известной ценой (forward-fill) —
// единообразно для всех потребителей.
type ClosePanel struct {
	Dates  []time.Time
	Closes map[string][]float64
}

// Tickers возвращает список активов панели
func (p *ClosePanel) Tickers() []string {
	out := make([]string, 0, len(p.Closes))
	for t := range p.Closes {
		out = append(out, t)
	}
	return out
}

// Empty сообщает, пуста ли панель
func (p *ClosePanel) Empty() bool {
	return p == nil || len(p.Dates) == 0 || len(p.Closes) == 0
}

// Last возвращает последнюю цену актива в панели (0, если актива нет)
func (p *ClosePanel) Last(ticker string) float64 {
	series, ok := p.Closes[ticker]
	if !ok || len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// Series возвращает серию закрытий актива (nil, если актива нет)
func (p *ClosePanel) Series(ticker string) []float64 {
	return p.Closes[ticker]
}
