package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/quantd/internal/analysis/aggregator"
	"github.com/skalibog/quantd/internal/analysis/fundamental"
	"github.com/skalibog/quantd/internal/analysis/macro"
	"github.com/skalibog/quantd/internal/analysis/oracle"
	"github.com/skalibog/quantd/internal/analysis/technical"
	"github.com/skalibog/quantd/internal/archive"
	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/internal/marketdata"
	"github.com/skalibog/quantd/internal/notify"
	"github.com/skalibog/quantd/internal/portfolio"
	"github.com/skalibog/quantd/internal/sentinel"
	"github.com/skalibog/quantd/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
		time.Sleep(5 * time.Second) // Даем горутинам время на завершение
		os.Exit(0)
	}()

	// Авторитетное хранилище портфеля
	store, err := portfolio.NewStore(cfg.Storage, cfg.Trading.Tenant)
	if err != nil {
		logger.Fatal("Ошибка инициализации хранилища портфеля", zap.Error(err))
	}
	defer store.Close()

	// Источник рыночных данных
	var feed marketdata.Feed
	binanceFeed, err := marketdata.NewBinanceFeed(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации источника данных", zap.Error(err))
	}
	feed = binanceFeed

	// Архив временных рядов — необязательный, отказ не фатален.
	// С архивом источник данных получает кэш свечей.
	var scoreArchive aggregator.ScoreArchive
	if cfg.Archive.URL != "" {
		influx, err := archive.NewInfluxDBArchive(cfg.Archive)
		if err != nil {
			logger.Warn("Архив недоступен, история оценок не пишется", zap.Error(err))
		} else {
			defer influx.Close()
			scoreArchive = influx
			feed = marketdata.NewCachedFeed(binanceFeed, influx)
		}
	}

	// Анализаторы
	fundamentals := oracle.NewFundamentalsClient(cfg.Oracle)
	analyzer := aggregator.NewAnalyzer(
		technical.NewAnalyzer(),
		fundamental.NewAnalyzer(fundamentals),
		oracle.NewHTTPOracle(cfg.Oracle),
		scoreArchive,
		cfg.Scoring,
		cfg.Trading,
	)
	classifier := macro.NewClassifier(feed, cfg.Macro)

	// Канал уведомлений
	var notifier notify.Notifier
	if cfg.Notify.BotToken != "" {
		notifier = notify.NewTelegramNotifier(cfg.Notify)
	} else {
		logger.Warn("Telegram не настроен, уведомления отключены")
	}

	// Страж работает в основном потоке до отмены контекста
	guard := sentinel.New(feed, store, analyzer, classifier, notifier,
		cfg.Sentinel, cfg.Risk, cfg.Optimizer, cfg.Trading.HistoryDays)
	guard.Run(ctx, cfg.Trading.Watchlist)
}
