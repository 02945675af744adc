package marketdata

import (
	"sort"
	"time"

	"github.com/skalibog/quantd/pkg/models"
)

type dayKey struct {
	year  int
	month time.Month
	day   int
}

func toDayKey(t time.Time) dayKey {
	y, m, d := t.Date()
	return dayKey{y, m, d}
}

// AlignPanel строит выровненную панель закрытий из разнородных серий.
// Ось дат — объединение дат всех серий, строки до первого общего
// наблюдения отбрасываются, пропуски внутри заполняются последней
// известной ценой актива. Панель никогда не содержит нулевых цен.
func AlignPanel(series map[string][]models.Candle) models.ClosePanel {
	if len(series) == 0 {
		return models.ClosePanel{}
	}

	dateSet := make(map[dayKey]time.Time)
	byDate := make(map[string]map[dayKey]float64, len(series))
	for ticker, candles := range series {
		if len(candles) == 0 {
			return models.ClosePanel{}
		}
		closes := make(map[dayKey]float64, len(candles))
		for _, c := range candles {
			key := toDayKey(c.OpenTime)
			closes[key] = c.Close
			if _, ok := dateSet[key]; !ok {
				dateSet[key] = c.OpenTime
			}
		}
		byDate[ticker] = closes
	}

	dates := make([]time.Time, 0, len(dateSet))
	for _, t := range dateSet {
		dates = append(dates, t)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	// Индекс первой даты, к которой каждый актив уже наблюдался
	start := 0
	for _, closes := range byDate {
		first := -1
		for i, date := range dates {
			if _, ok := closes[toDayKey(date)]; ok {
				first = i
				break
			}
		}
		if first < 0 {
			return models.ClosePanel{}
		}
		if first > start {
			start = first
		}
	}

	dates = dates[start:]
	panel := models.ClosePanel{
		Dates:  dates,
		Closes: make(map[string][]float64, len(series)),
	}
	for ticker, closes := range byDate {
		aligned := make([]float64, len(dates))
		last := 0.0
		for i, date := range dates {
			if v, ok := closes[toDayKey(date)]; ok {
				last = v
			}
			aligned[i] = last
		}
		panel.Closes[ticker] = aligned
	}
	return panel
}
