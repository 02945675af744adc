package sentinel

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/internal/marketdata"
	"github.com/skalibog/quantd/pkg/models"
)

type fakeFeed struct {
	candles map[string][]models.Candle
	prices  map[string]float64
}

func (f *fakeFeed) Detail(ctx context.Context, ticker string, days int) ([]models.Candle, error) {
	return f.candles[ticker], nil
}

func (f *fakeFeed) Multi(ctx context.Context, tickers []string, days int) (models.ClosePanel, error) {
	series := make(map[string][]models.Candle, len(tickers))
	for _, ticker := range tickers {
		series[ticker] = f.candles[ticker]
	}
	return marketdata.AlignPanel(series), nil
}

func (f *fakeFeed) LastPrice(ctx context.Context, ticker string) float64 {
	return f.prices[ticker]
}

type fakeStore struct {
	portfolio  models.Portfolio
	trades     []models.Trade
	protection map[string][2]float64
	signals    map[string]bool
	settings   map[string]string
	targets    map[string]float64
}

func newFakeStore(cash float64) *fakeStore {
	return &fakeStore{
		portfolio:  models.Portfolio{Cash: cash, Positions: map[string]models.Position{}},
		protection: map[string][2]float64{},
		signals:    map[string]bool{},
		settings:   map[string]string{},
		targets:    map[string]float64{},
	}
}

func (s *fakeStore) Load(ctx context.Context) (models.Portfolio, error) {
	// Копия, как делает настоящее хранилище
	out := models.Portfolio{Cash: s.portfolio.Cash, Positions: map[string]models.Position{}}
	for t, p := range s.portfolio.Positions {
		out.Positions[t] = p
	}
	return out, nil
}

func (s *fakeStore) RecordTrade(ctx context.Context, trade models.Trade) (float64, error) {
	s.trades = append(s.trades, trade)
	var pnl float64
	switch trade.Side {
	case models.SideBuy:
		s.portfolio.Cash -= trade.Qty * trade.Price
		s.portfolio.Positions[trade.Ticker] = models.Position{Qty: trade.Qty, AvgPrice: trade.Price}
	case models.SideSell:
		pos := s.portfolio.Positions[trade.Ticker]
		pnl = (trade.Price - pos.AvgPrice) * trade.Qty
		s.portfolio.Cash += trade.Qty * trade.Price
		delete(s.portfolio.Positions, trade.Ticker)
	}
	return pnl, nil
}

func (s *fakeStore) SetProtection(ctx context.Context, ticker string, stop, take float64) error {
	s.protection[ticker] = [2]float64{stop, take}
	return nil
}

func (s *fakeStore) RecordSignal(ctx context.Context, signal models.Signal) (bool, error) {
	key := signal.Ticker + "|" + signal.Setup + "|" + signal.Date.Format("2006-01-02")
	if s.signals[key] {
		return false, nil
	}
	s.signals[key] = true
	return true, nil
}

func (s *fakeStore) LoadTargets(ctx context.Context) (map[string]float64, error) {
	return s.targets, nil
}

func (s *fakeStore) Setting(ctx context.Context, key string) (string, error) {
	return s.settings[key], nil
}

type fakeScorer struct {
	values map[string]int
}

func (f *fakeScorer) Score(ctx context.Context, ticker string, candles []models.Candle, regime models.Regime) models.Score {
	price := 0.0
	if len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}
	return models.Score{
		Ticker:    ticker,
		Timestamp: time.Now(),
		Price:     price,
		Value:     f.values[ticker],
	}
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Send(ctx context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func mkCandles(closes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = models.Candle{Symbol: "TEST", OpenTime: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func testCfg() config.SentinelConfig {
	return config.SentinelConfig{
		IntervalSeconds: 1800,
		ScoreBuy:        85,
		ScoreSell:       25,
		ScoreSignal:     80,
		Lot:             5000,
		AutoTrade:       true,
	}
}

func testRiskCfg() config.RiskConfig {
	return config.RiskConfig{Confidence: 0.95, StressShock: -0.10}
}

func testOptCfg() config.OptimizerConfig {
	return config.OptimizerConfig{Portfolios: 5000, MinDeviation: 1.0}
}

func newTestSentinel(feed *fakeFeed, store *fakeStore, scorer *fakeScorer, notifier *fakeNotifier) *Sentinel {
	return New(feed, store, scorer, nil, notifier, testCfg(), testRiskCfg(), testOptCfg(), 500)
}

func TestStopLossLiquidatesPosition(t *testing.T) {
	store := newFakeStore(0)
	store.portfolio.Positions["AAA"] = models.Position{Qty: 10, AvgPrice: 100, Stop: 95, Take: 120}
	feed := &fakeFeed{prices: map[string]float64{"AAA": 90}, candles: map[string][]models.Candle{}}
	notifier := &fakeNotifier{}

	s := newTestSentinel(feed, store, &fakeScorer{values: map[string]int{}}, notifier)
	s.Cycle(context.Background(), nil)

	if len(store.trades) != 1 {
		t.Fatalf("сделок %d, ожидалась 1 продажа", len(store.trades))
	}
	tr := store.trades[0]
	if tr.Side != models.SideSell || tr.Qty != 10 || tr.Price != 90 {
		t.Fatalf("сделка %+v, ожидалась продажа 10 по 90", tr)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("уведомлений %d, ожидалось 1", len(notifier.messages))
	}
}

func TestTakeProfitLiquidatesPosition(t *testing.T) {
	store := newFakeStore(0)
	store.portfolio.Positions["AAA"] = models.Position{Qty: 10, AvgPrice: 100, Stop: 95, Take: 120}
	feed := &fakeFeed{prices: map[string]float64{"AAA": 125}, candles: map[string][]models.Candle{}}

	s := newTestSentinel(feed, store, &fakeScorer{values: map[string]int{}}, &fakeNotifier{})
	s.Cycle(context.Background(), nil)

	if len(store.trades) != 1 || store.trades[0].Side != models.SideSell {
		t.Fatalf("ожидалась продажа по тейку, получено %+v", store.trades)
	}
}

func TestUnavailablePriceSkipsPosition(t *testing.T) {
	store := newFakeStore(0)
	store.portfolio.Positions["AAA"] = models.Position{Qty: 10, AvgPrice: 100, Stop: 95}
	feed := &fakeFeed{prices: map[string]float64{}, candles: map[string][]models.Candle{}}

	s := newTestSentinel(feed, store, &fakeScorer{values: map[string]int{}}, &fakeNotifier{})
	s.Cycle(context.Background(), nil)

	if len(store.trades) != 0 {
		t.Fatalf("без цены сделок быть не должно, получено %d", len(store.trades))
	}
}

func TestHighScoreBuysLotWithProtection(t *testing.T) {
	store := newFakeStore(10000)
	feed := &fakeFeed{
		prices:  map[string]float64{},
		candles: map[string][]models.Candle{"AAA": mkCandles([]float64{99, 100, 101, 100})},
	}
	notifier := &fakeNotifier{}
	scorer := &fakeScorer{values: map[string]int{"AAA": 90}}

	s := newTestSentinel(feed, store, scorer, notifier)
	s.Cycle(context.Background(), []string{"AAA"})

	if len(store.trades) != 1 {
		t.Fatalf("сделок %d, ожидалась 1 покупка", len(store.trades))
	}
	tr := store.trades[0]
	if tr.Side != models.SideBuy || tr.Qty != 50 || tr.Price != 100 {
		t.Fatalf("сделка %+v, ожидалась покупка 50 по 100", tr)
	}

	// Без High/Low работает запасная защита ±5%
	prot, ok := store.protection["AAA"]
	if !ok {
		t.Fatal("защита позиции не установлена")
	}
	if prot[0] != 95 || prot[1] != 105 {
		t.Fatalf("защита (%.2f, %.2f), ожидалось (95, 105)", prot[0], prot[1])
	}

	// Сигнал высокой уверенности и авто-сделка: два уведомления
	if len(notifier.messages) != 2 {
		t.Fatalf("уведомлений %d, ожидалось 2", len(notifier.messages))
	}
}

func TestInsufficientCashNoBuy(t *testing.T) {
	store := newFakeStore(1000) // меньше лота
	feed := &fakeFeed{
		prices:  map[string]float64{},
		candles: map[string][]models.Candle{"AAA": mkCandles([]float64{100})},
	}
	scorer := &fakeScorer{values: map[string]int{"AAA": 90}}

	s := newTestSentinel(feed, store, scorer, &fakeNotifier{})
	s.Cycle(context.Background(), []string{"AAA"})

	if len(store.trades) != 0 {
		t.Fatalf("без кэша на лот сделок быть не должно, получено %d", len(store.trades))
	}
}

func TestLowScoreLiquidates(t *testing.T) {
	store := newFakeStore(0)
	store.portfolio.Positions["AAA"] = models.Position{Qty: 10, AvgPrice: 100}
	feed := &fakeFeed{
		prices:  map[string]float64{"AAA": 80},
		candles: map[string][]models.Candle{"AAA": mkCandles([]float64{100, 90, 80})},
	}
	scorer := &fakeScorer{values: map[string]int{"AAA": 20}}

	s := newTestSentinel(feed, store, scorer, &fakeNotifier{})
	s.Cycle(context.Background(), []string{"AAA"})

	if len(store.trades) != 1 || store.trades[0].Side != models.SideSell || store.trades[0].Qty != 10 {
		t.Fatalf("ожидалась полная ликвидация, получено %+v", store.trades)
	}
}

func TestSignalDedupAcrossCycles(t *testing.T) {
	store := newFakeStore(100000)
	feed := &fakeFeed{
		prices:  map[string]float64{"AAA": 100},
		candles: map[string][]models.Candle{"AAA": mkCandles([]float64{100, 100, 100})},
	}
	notifier := &fakeNotifier{}
	scorer := &fakeScorer{values: map[string]int{"AAA": 82}} // сигнал, но не покупка

	s := newTestSentinel(feed, store, scorer, notifier)
	s.Cycle(context.Background(), []string{"AAA"})
	s.Cycle(context.Background(), []string{"AAA"})

	// Второй проход не дает повторного уведомления о том же сигнале
	if len(notifier.messages) != 1 {
		t.Fatalf("уведомлений %d, ожидалось 1 (дедупликация)", len(notifier.messages))
	}
	if len(store.trades) != 0 {
		t.Fatalf("оценка 82 ниже порога покупки, сделок быть не должно: %+v", store.trades)
	}
}

func TestAutoTradeOffOnlyRecommends(t *testing.T) {
	store := newFakeStore(0)
	store.portfolio.Positions["AAA"] = models.Position{Qty: 10, AvgPrice: 100, Stop: 95}
	feed := &fakeFeed{prices: map[string]float64{"AAA": 90}, candles: map[string][]models.Candle{}}
	notifier := &fakeNotifier{}

	cfg := testCfg()
	cfg.AutoTrade = false
	s := New(feed, store, &fakeScorer{values: map[string]int{}}, nil, notifier, cfg, testRiskCfg(), testOptCfg(), 500)
	s.Cycle(context.Background(), nil)

	if len(store.trades) != 0 {
		t.Fatalf("при выключенной авто-торговле сделок быть не должно: %+v", store.trades)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("уведомлений %d, ожидалась 1 рекомендация", len(notifier.messages))
	}
	if !strings.HasPrefix(notifier.messages[0], "РЕКОМЕНДАЦИЯ") {
		t.Fatalf("ожидалась рекомендация, получено %q", notifier.messages[0])
	}
}

func TestSettingOverridesConfigToggle(t *testing.T) {
	store := newFakeStore(10000)
	store.settings[settingAutoTrade] = "0"
	feed := &fakeFeed{
		prices:  map[string]float64{},
		candles: map[string][]models.Candle{"AAA": mkCandles([]float64{100})},
	}
	scorer := &fakeScorer{values: map[string]int{"AAA": 90}}

	// Конфигурация разрешает торговлю, хранилище запрещает
	s := newTestSentinel(feed, store, scorer, &fakeNotifier{})
	s.Cycle(context.Background(), []string{"AAA"})

	if len(store.trades) != 0 {
		t.Fatalf("настройка хранилища должна блокировать сделки: %+v", store.trades)
	}

	store.settings[settingAutoTrade] = "1"
	s.Cycle(context.Background(), []string{"AAA"})
	if len(store.trades) != 1 || store.trades[0].Side != models.SideBuy {
		t.Fatalf("после включения ожидалась покупка, получено %+v", store.trades)
	}
}

func TestHeldAssetScoredWithoutWatchlist(t *testing.T) {
	store := newFakeStore(0)
	store.portfolio.Positions["BBB"] = models.Position{Qty: 10, AvgPrice: 100}
	feed := &fakeFeed{
		prices:  map[string]float64{"BBB": 80},
		candles: map[string][]models.Candle{"BBB": mkCandles([]float64{100, 90, 80})},
	}
	scorer := &fakeScorer{values: map[string]int{"BBB": 20}}

	// BBB нет в watchlist, но позиция открыта: актив все равно оценивается
	s := newTestSentinel(feed, store, scorer, &fakeNotifier{})
	s.Cycle(context.Background(), nil)

	if len(store.trades) != 1 || store.trades[0].Ticker != "BBB" || store.trades[0].Side != models.SideSell {
		t.Fatalf("ожидалась ликвидация BBB по низкой оценке, получено %+v", store.trades)
	}
}

func TestSettingOverridesWatchlist(t *testing.T) {
	store := newFakeStore(100000)
	store.settings[settingWatchlist] = "BBB, CCC"
	feed := &fakeFeed{
		prices: map[string]float64{},
		candles: map[string][]models.Candle{
			"AAA": mkCandles([]float64{100}),
			"BBB": mkCandles([]float64{100}),
			"CCC": mkCandles([]float64{100}),
		},
	}
	scorer := &fakeScorer{values: map[string]int{"AAA": 90, "BBB": 90, "CCC": 50}}

	// Конфигурация дает AAA, хранилище переопределяет на BBB и CCC
	s := newTestSentinel(feed, store, scorer, &fakeNotifier{})
	s.Cycle(context.Background(), []string{"AAA"})

	if len(store.trades) != 1 || store.trades[0].Ticker != "BBB" {
		t.Fatalf("ожидалась покупка только BBB, получено %+v", store.trades)
	}

	// Пустое значение в хранилище возвращает список из конфигурации
	store.settings[settingWatchlist] = ""
	s.Cycle(context.Background(), []string{"AAA"})
	if len(store.trades) != 2 || store.trades[1].Ticker != "AAA" {
		t.Fatalf("ожидалась покупка AAA по списку конфигурации, получено %+v", store.trades)
	}
}

func TestGuardLiquidationNotResoldSameCycle(t *testing.T) {
	store := newFakeStore(0)
	store.portfolio.Positions["AAA"] = models.Position{Qty: 10, AvgPrice: 100, Stop: 95}
	feed := &fakeFeed{
		prices:  map[string]float64{"AAA": 90},
		candles: map[string][]models.Candle{"AAA": mkCandles([]float64{100, 95, 90})},
	}
	scorer := &fakeScorer{values: map[string]int{"AAA": 20}}

	// Стоп сработал, и оценка ниже порога продажи: позиция закрывается
	// ровно один раз, повторной продажи в том же проходе нет
	s := newTestSentinel(feed, store, scorer, &fakeNotifier{})
	s.Cycle(context.Background(), []string{"AAA"})

	if len(store.trades) != 1 {
		t.Fatalf("сделок %d, ожидалась одна продажа: %+v", len(store.trades), store.trades)
	}
	if store.trades[0].Side != models.SideSell || store.trades[0].Price != 90 {
		t.Fatalf("ожидалась продажа по стопу 90, получено %+v", store.trades[0])
	}
}

func TestTargetDeviationNotifiesRebalance(t *testing.T) {
	store := newFakeStore(1000)
	store.portfolio.Positions["XXX"] = models.Position{Qty: 10, AvgPrice: 100}
	store.targets = map[string]float64{"XXX": 25}
	feed := &fakeFeed{
		prices:  map[string]float64{},
		candles: map[string][]models.Candle{"XXX": mkCandles([]float64{100, 100, 100})},
	}
	scorer := &fakeScorer{values: map[string]int{"XXX": 50}}
	notifier := &fakeNotifier{}

	// Капитал 2000, позиция 1000 (50%) при цели 25%: нужна продажа 5
	s := newTestSentinel(feed, store, scorer, notifier)
	s.Cycle(context.Background(), nil)

	if len(store.trades) != 0 {
		t.Fatalf("обзор не торгует сам, получено %+v", store.trades)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("уведомлений %d, ожидалось 1 о ребалансировке", len(notifier.messages))
	}
	msg := notifier.messages[0]
	if !strings.HasPrefix(msg, "РЕБАЛАНСИРОВКА") || !strings.Contains(msg, "ПРОДАТЬ 5 XXX") {
		t.Fatalf("неожиданное уведомление %q", msg)
	}
}

func TestHeartbeatWritten(t *testing.T) {
	dir := t.TempDir()
	cfg := testCfg()
	cfg.HeartbeatFile = dir + "/heartbeat.txt"

	store := newFakeStore(0)
	feed := &fakeFeed{prices: map[string]float64{}, candles: map[string][]models.Candle{}}
	s := New(feed, store, &fakeScorer{values: map[string]int{}}, nil, nil, cfg, testRiskCfg(), testOptCfg(), 500)
	s.Cycle(context.Background(), nil)

	if _, err := os.Stat(cfg.HeartbeatFile); err != nil {
		t.Fatalf("heartbeat не записан: %v", err)
	}
}
