package sentinel

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skalibog/quantd/internal/analysis/macro"
	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/internal/indicator"
	"github.com/skalibog/quantd/internal/marketdata"
	"github.com/skalibog/quantd/internal/notify"
	"github.com/skalibog/quantd/internal/optimizer"
	"github.com/skalibog/quantd/internal/risk"
	"github.com/skalibog/quantd/pkg/logger"
	"github.com/skalibog/quantd/pkg/models"
)

const atrPeriod = 14

// Ключи оперативных настроек в хранилище
const (
	settingAutoTrade = "auto_trade"
	settingWatchlist = "watchlist"
)

// PortfolioStore — операции хранилища, нужные автономному циклу
type PortfolioStore interface {
	Load(ctx context.Context) (models.Portfolio, error)
	RecordTrade(ctx context.Context, trade models.Trade) (float64, error)
	SetProtection(ctx context.Context, ticker string, stop, take float64) error
	RecordSignal(ctx context.Context, signal models.Signal) (bool, error)
	LoadTargets(ctx context.Context) (map[string]float64, error)
	Setting(ctx context.Context, key string) (string, error)
}

// Regimer — классификатор макро-режима
type Regimer interface {
	Classify(ctx context.Context) models.Regime
}

// Scorer — агрегатор оценок
type Scorer interface {
	Score(ctx context.Context, ticker string, candles []models.Candle, regime models.Regime) models.Score
}

// Sentinel — автономный страж: охраняет открытые позиции и исполняет
// сделки по оценкам. Один проход цикла никогда не падает целиком:
// ошибка по одному активу изолируется и логируется.
type Sentinel struct {
	feed     marketdata.Feed
	store    PortfolioStore
	scorer   Scorer
	regimer  Regimer
	notifier notify.Notifier
	cfg      config.SentinelConfig
	riskCfg  config.RiskConfig
	optCfg   config.OptimizerConfig
	history  int
}

// New создает стража. notifier может быть nil.
func New(
	feed marketdata.Feed,
	store PortfolioStore,
	scorer Scorer,
	regimer Regimer,
	notifier notify.Notifier,
	cfg config.SentinelConfig,
	riskCfg config.RiskConfig,
	optCfg config.OptimizerConfig,
	historyDays int,
) *Sentinel {
	return &Sentinel{
		feed:     feed,
		store:    store,
		scorer:   scorer,
		regimer:  regimer,
		notifier: notifier,
		cfg:      cfg,
		riskCfg:  riskCfg,
		optCfg:   optCfg,
		history:  historyDays,
	}
}

// Run запускает цикл стража до отмены контекста.
// Первый проход выполняется сразу, далее по фиксированному интервалу.
func (s *Sentinel) Run(ctx context.Context, watchlist []string) {
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	logger.Info("Страж запущен",
		zap.Duration("interval", interval),
		zap.Any("watchlist", watchlist))

	s.Cycle(ctx, watchlist)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Страж остановлен")
			return
		case <-ticker.C:
			s.Cycle(ctx, watchlist)
		}
	}
}

// Cycle выполняет один проход: heartbeat, охрана позиций, поиск
// возможностей. Любая ошибка внутри прохода логируется и не
// останавливает ни проход, ни цикл.
func (s *Sentinel) Cycle(ctx context.Context, watchlist []string) {
	cycleID := uuid.NewString()
	started := time.Now()
	logger.Info("Начало прохода", zap.String("cycle", cycleID))

	s.heartbeat(cycleID)

	portfolio, err := s.store.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки портфеля, проход пропущен",
			zap.String("cycle", cycleID), zap.Error(err))
		return
	}

	autoTrade := s.autoTradeEnabled(ctx)
	watch := s.watchlistFor(ctx, watchlist)

	regime := macro.Calm()
	if s.regimer != nil {
		regime = s.regimer.Classify(ctx)
	}
	logger.Info("Макро-режим",
		zap.String("cycle", cycleID),
		zap.String("label", regime.Label),
		zap.Int("severity", regime.Severity),
		zap.Bool("auto_trade", autoTrade),
		zap.Any("watchlist", watch))

	s.guardPositions(ctx, cycleID, &portfolio, autoTrade)
	s.huntOpportunities(ctx, cycleID, &portfolio, watch, regime, autoTrade)
	s.reviewPortfolio(ctx, cycleID, &portfolio)

	logger.Info("Проход завершен",
		zap.String("cycle", cycleID),
		zap.Duration("elapsed", time.Since(started)))
}

// heartbeat обновляет файл-маяк для внешнего мониторинга
func (s *Sentinel) heartbeat(cycleID string) {
	if s.cfg.HeartbeatFile == "" {
		return
	}
	content := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), cycleID)
	if err := os.WriteFile(s.cfg.HeartbeatFile, []byte(content), 0o644); err != nil {
		logger.Warn("Ошибка записи heartbeat", zap.Error(err))
	}
}

// autoTradeEnabled читает тумблер авто-торговли из хранилища.
// Незаполненная настройка отдает значение из файла конфигурации,
// отказ хранилища деградирует туда же.
func (s *Sentinel) autoTradeEnabled(ctx context.Context) bool {
	value, err := s.store.Setting(ctx, settingAutoTrade)
	if err != nil {
		logger.Warn("Ошибка чтения тумблера авто-торговли", zap.Error(err))
		return s.cfg.AutoTrade
	}
	switch value {
	case "1", "true", "on":
		return true
	case "0", "false", "off":
		return false
	}
	return s.cfg.AutoTrade
}

// watchlistFor читает watchlist из хранилища (список тикеров через
// запятую). Значение хранилища имеет приоритет над конфигурацией,
// как и тумблер авто-торговли; пустое или нечитаемое значение
// оставляет список из конфигурации.
func (s *Sentinel) watchlistFor(ctx context.Context, fallback []string) []string {
	value, err := s.store.Setting(ctx, settingWatchlist)
	if err != nil {
		logger.Warn("Ошибка чтения watchlist из хранилища", zap.Error(err))
		return fallback
	}
	var out []string
	for _, ticker := range strings.Split(value, ",") {
		if ticker = strings.TrimSpace(ticker); ticker != "" {
			out = append(out, ticker)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// guardPositions проверяет стопы и тейки открытых позиций.
// При включенной авто-торговле сработавший уровень закрывает позицию
// полностью; при выключенной оператор получает только рекомендацию.
func (s *Sentinel) guardPositions(ctx context.Context, cycleID string, portfolio *models.Portfolio, autoTrade bool) {
	for ticker, pos := range portfolio.Positions {
		price := s.feed.LastPrice(ctx, ticker)
		if price <= 0 {
			logger.Warn("Цена недоступна, позиция пропущена",
				zap.String("cycle", cycleID), zap.String("ticker", ticker))
			continue
		}

		var reason, message string
		switch {
		case pos.Stop > 0 && price <= pos.Stop:
			reason = fmt.Sprintf("стоп-лосс %.2f", pos.Stop)
			message = notify.FormatStopHit(ticker, price, pos.Stop)
		case pos.Take > 0 && price >= pos.Take:
			reason = fmt.Sprintf("тейк-профит %.2f", pos.Take)
			message = notify.FormatTakeHit(ticker, price, pos.Take)
		default:
			continue
		}

		if !autoTrade {
			logger.Info("Рекомендация закрыть позицию (авто-торговля выключена)",
				zap.String("cycle", cycleID),
				zap.String("ticker", ticker),
				zap.String("reason", reason))
			s.notifyOperator(ctx, "РЕКОМЕНДАЦИЯ: "+message)
			continue
		}
		if s.liquidate(ctx, cycleID, ticker, pos, price, reason, message) {
			delete(portfolio.Positions, ticker)
		}
	}
}

// liquidate закрывает позицию полностью и сообщает, была ли сделка
// проведена хранилищем
func (s *Sentinel) liquidate(ctx context.Context, cycleID, ticker string, pos models.Position, price float64, reason, message string) bool {
	trade := models.Trade{
		Ticker: ticker,
		Side:   models.SideSell,
		Qty:    pos.Qty,
		Price:  price,
		Note:   reason,
	}
	pnl, err := s.store.RecordTrade(ctx, trade)
	if err != nil {
		logger.Error("Ошибка закрытия позиции",
			zap.String("cycle", cycleID),
			zap.String("ticker", ticker),
			zap.Error(err))
		return false
	}
	logger.Info("Позиция закрыта",
		zap.String("cycle", cycleID),
		zap.String("ticker", ticker),
		zap.String("reason", reason),
		zap.Float64("pnl", pnl))
	s.notifyOperator(ctx, message)
	return true
}

// huntOpportunities оценивает объединение watchlist и открытых позиций.
// Сигналы фиксируются всегда, сделки исполняются только при включенной
// авто-торговле.
func (s *Sentinel) huntOpportunities(ctx context.Context, cycleID string, portfolio *models.Portfolio, watchlist []string, regime models.Regime, autoTrade bool) {
	tickers := make([]string, 0, len(watchlist)+len(portfolio.Positions))
	seen := make(map[string]bool, len(watchlist))
	for _, ticker := range watchlist {
		if !seen[ticker] {
			seen[ticker] = true
			tickers = append(tickers, ticker)
		}
	}
	for _, ticker := range portfolio.Held() {
		if !seen[ticker] {
			seen[ticker] = true
			tickers = append(tickers, ticker)
		}
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		candles, err := s.feed.Detail(ctx, ticker, s.history)
		if err != nil {
			logger.Warn("Ошибка загрузки истории, актив пропущен",
				zap.String("cycle", cycleID),
				zap.String("ticker", ticker),
				zap.Error(err))
			continue
		}
		if len(candles) == 0 {
			continue
		}

		score := s.scorer.Score(ctx, ticker, candles, regime)
		logger.Info("Оценка актива",
			zap.String("cycle", cycleID),
			zap.String("ticker", ticker),
			zap.Int("score", score.Value),
			zap.String("verdict", score.Verdict))

		s.recordSignal(ctx, cycleID, score)

		pos, held := portfolio.Positions[ticker]
		switch {
		case score.Value >= s.cfg.ScoreBuy && !held:
			if !autoTrade {
				continue
			}
			s.tryBuy(ctx, cycleID, portfolio, ticker, candles, score)
		case score.Value <= s.cfg.ScoreSell && held:
			if !autoTrade {
				logger.Info("Рекомендация продать по низкой оценке (авто-торговля выключена)",
					zap.String("cycle", cycleID),
					zap.String("ticker", ticker),
					zap.Int("score", score.Value))
				s.notifyOperator(ctx, fmt.Sprintf("РЕКОМЕНДАЦИЯ: продать %s, оценка %d (%s)",
					ticker, score.Value, score.Verdict))
				continue
			}
			closed := s.liquidate(ctx, cycleID, ticker, pos, score.Price,
				fmt.Sprintf("оценка %d", score.Value),
				notify.FormatAutoTrade(models.Trade{
					Ticker: ticker,
					Side:   models.SideSell,
					Qty:    pos.Qty,
					Price:  score.Price,
					Note:   "ликвидация по низкой оценке",
				}, score.Value))
			if closed {
				delete(portfolio.Positions, ticker)
			}
		}
	}
}

// tryBuy покупает фиксированный лот при высокой оценке и ставит защиту
func (s *Sentinel) tryBuy(ctx context.Context, cycleID string, portfolio *models.Portfolio, ticker string, candles []models.Candle, score models.Score) {
	price := score.Price
	if price <= 0 {
		return
	}
	if portfolio.Cash < s.cfg.Lot {
		logger.Info("Недостаточно кэша для лота",
			zap.String("cycle", cycleID),
			zap.String("ticker", ticker),
			zap.Float64("cash", portfolio.Cash),
			zap.Float64("lot", s.cfg.Lot))
		return
	}

	qty := math.Floor(s.cfg.Lot / price)
	if qty <= 0 {
		return
	}

	trade := models.Trade{
		Ticker: ticker,
		Side:   models.SideBuy,
		Qty:    qty,
		Price:  price,
		Note:   fmt.Sprintf("покупка по оценке %d", score.Value),
	}
	if _, err := s.store.RecordTrade(ctx, trade); err != nil {
		logger.Error("Ошибка исполнения покупки",
			zap.String("cycle", cycleID),
			zap.String("ticker", ticker),
			zap.Error(err))
		return
	}

	stop, take := protectionLevels(candles, price)
	if err := s.store.SetProtection(ctx, ticker, stop, take); err != nil {
		logger.Error("Ошибка установки защиты",
			zap.String("cycle", cycleID),
			zap.String("ticker", ticker),
			zap.Error(err))
	}

	portfolio.Cash -= qty * price
	portfolio.Positions[ticker] = models.Position{
		Qty: qty, AvgPrice: price, Stop: stop, Take: take,
	}

	logger.Info("Покупка исполнена",
		zap.String("cycle", cycleID),
		zap.String("ticker", ticker),
		zap.Float64("qty", qty),
		zap.Float64("stop", stop),
		zap.Float64("take", take))
	s.notifyOperator(ctx, notify.FormatAutoTrade(trade, score.Value))
}

// protectionLevels вычисляет стоп и тейк от волатильности:
// стоп на 2 ATR ниже входа, тейк на 3 ATR выше. Без данных High/Low
// используется запасной вариант ±5% от цены входа.
func protectionLevels(candles []models.Candle, price float64) (stop, take float64) {
	atr := indicator.LastATR(candles, atrPeriod)
	if atr > 0 {
		return price - 2*atr, price + 3*atr
	}
	return price * 0.95, price * 1.05
}

// recordSignal фиксирует сигнал высокой уверенности с дедупликацией
// по календарному дню и уведомляет только о новых
func (s *Sentinel) recordSignal(ctx context.Context, cycleID string, score models.Score) {
	if score.Value < s.cfg.ScoreSignal {
		return
	}
	inserted, err := s.store.RecordSignal(ctx, models.Signal{
		Ticker: score.Ticker,
		Setup:  "HIGH_CONVICTION",
		Date:   score.Timestamp,
		Price:  score.Price,
	})
	if err != nil {
		logger.Warn("Ошибка записи сигнала",
			zap.String("cycle", cycleID),
			zap.String("ticker", score.Ticker),
			zap.Error(err))
		return
	}
	if inserted {
		s.notifyOperator(ctx, notify.FormatConviction(score))
	}
}

// reviewPortfolio считает риск-сводку портфеля после торгового прохода
// и проверяет отклонения от целевых весов. Ошибки обзора только
// логируются: обзор не влияет на торговый путь.
func (s *Sentinel) reviewPortfolio(ctx context.Context, cycleID string, portfolio *models.Portfolio) {
	if len(portfolio.Positions) == 0 {
		return
	}

	tickers := portfolio.Held()
	if s.riskCfg.Benchmark != "" {
		tickers = append(tickers, s.riskCfg.Benchmark)
	}
	panel, err := s.feed.Multi(ctx, tickers, s.history)
	if err != nil {
		logger.Warn("Ошибка загрузки панели для риск-обзора",
			zap.String("cycle", cycleID), zap.Error(err))
		return
	}

	varMoney, varPct := risk.VaR(portfolio, &panel, s.riskCfg.Confidence)
	cvar := risk.CVaR(portfolio, &panel, s.riskCfg.Confidence)
	stressLoss, impacts := risk.StressTest(portfolio, &panel, s.riskCfg.StressShock, s.riskCfg.Benchmark)
	betas := make(map[string]float64, len(impacts))
	for ticker, impact := range impacts {
		betas[ticker] = impact.Beta
	}
	beta, alerts := risk.PortfolioBeta(portfolio, &panel, betas)

	logger.Info("Риск-обзор портфеля",
		zap.String("cycle", cycleID),
		zap.Float64("var", varMoney),
		zap.Float64("var_pct", varPct),
		zap.Float64("cvar", cvar),
		zap.Float64("stress_loss", stressLoss),
		zap.Float64("beta", beta),
		zap.Strings("alerts", alerts))

	s.checkTargets(ctx, cycleID, portfolio, &panel)
}

// checkTargets сравнивает портфель с сохраненными целевыми весами и
// уведомляет оператора о назревшей ребалансировке
func (s *Sentinel) checkTargets(ctx context.Context, cycleID string, portfolio *models.Portfolio, panel *models.ClosePanel) {
	targets, err := s.store.LoadTargets(ctx)
	if err != nil {
		logger.Warn("Ошибка загрузки целевых весов",
			zap.String("cycle", cycleID), zap.Error(err))
		return
	}
	if len(targets) == 0 {
		return
	}

	var lines []string
	for _, order := range optimizer.RebalancePlan(portfolio, targets, panel, s.optCfg.MinDeviation) {
		if order.Action == optimizer.ActionHold {
			continue
		}
		logger.Info("Отклонение от целевого веса",
			zap.String("cycle", cycleID),
			zap.String("ticker", order.Ticker),
			zap.String("action", order.Action),
			zap.Int("qty", order.Qty),
			zap.Float64("deviation_pct", order.DeviationPct))
		lines = append(lines, fmt.Sprintf("%s %d %s по %.2f",
			order.Action, order.Qty, order.Ticker, order.Price))
	}
	if len(lines) > 0 {
		s.notifyOperator(ctx, "РЕБАЛАНСИРОВКА: "+strings.Join(lines, "; "))
	}
}

func (s *Sentinel) notifyOperator(ctx context.Context, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, message); err != nil {
		logger.Warn("Уведомление не доставлено", zap.Error(err))
	}
}
