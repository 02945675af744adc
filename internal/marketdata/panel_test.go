package marketdata

import (
	"testing"
	"time"

	"github.com/skalibog/quantd/pkg/models"
)

func day(d int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func mkSeries(closes map[int]float64) []models.Candle {
	var out []models.Candle
	for d := 0; d < 30; d++ {
		if c, ok := closes[d]; ok {
			out = append(out, models.Candle{Symbol: "TEST", OpenTime: day(d), Close: c})
		}
	}
	return out
}

func TestAlignPanelForwardFill(t *testing.T) {
	series := map[string][]models.Candle{
		// Пропуск на день 1
		"AAA": mkSeries(map[int]float64{0: 100, 2: 102, 3: 103}),
		"BBB": mkSeries(map[int]float64{0: 50, 1: 51, 2: 52, 3: 53}),
	}

	panel := AlignPanel(series)
	if len(panel.Dates) != 4 {
		t.Fatalf("дат %d, ожидалось 4", len(panel.Dates))
	}

	aaa := panel.Series("AAA")
	want := []float64{100, 100, 102, 103}
	for i, v := range want {
		if aaa[i] != v {
			t.Fatalf("AAA[%d] = %.2f, ожидалось %.2f (forward-fill)", i, aaa[i], v)
		}
	}
}

func TestAlignPanelTrimsLeadingRows(t *testing.T) {
	series := map[string][]models.Candle{
		"OLD": mkSeries(map[int]float64{0: 100, 1: 101, 2: 102, 3: 103}),
		// Появляется только на день 2
		"NEW": mkSeries(map[int]float64{2: 10, 3: 11}),
	}

	panel := AlignPanel(series)
	if len(panel.Dates) != 2 {
		t.Fatalf("дат %d, ожидалось 2 (строки до первого общего наблюдения отброшены)", len(panel.Dates))
	}
	if panel.Series("OLD")[0] != 102 || panel.Series("NEW")[0] != 10 {
		t.Fatalf("первая строка панели: OLD %.2f, NEW %.2f", panel.Series("OLD")[0], panel.Series("NEW")[0])
	}
	// Панель не содержит нулевых цен
	for ticker, s := range panel.Closes {
		for i, v := range s {
			if v == 0 {
				t.Fatalf("%s[%d] = 0: нулевая цена в панели", ticker, i)
			}
		}
	}
}

func TestAlignPanelDegenerate(t *testing.T) {
	if p := AlignPanel(nil); !p.Empty() {
		t.Fatal("пустой вход должен давать пустую панель")
	}
	series := map[string][]models.Candle{"AAA": nil}
	if p := AlignPanel(series); !p.Empty() {
		t.Fatal("актив без свечей должен давать пустую панель")
	}
}
