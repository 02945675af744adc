// internal/archive/influxdb.go
package archive

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/pkg/models"
)

// Archive — хранилище временных рядов: кэш свечей и история оценок.
// Не является авторитетным состоянием: любую запись можно восстановить
// из источника данных или пересчитать.
type Archive interface {
	SaveCandles(ctx context.Context, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error)
	SaveScore(ctx context.Context, score models.Score) error
	GetScoreHistory(ctx context.Context, symbol string, limit int) ([]models.Score, error)
	Close()
}

// InfluxDBArchive реализует интерфейс Archive с использованием InfluxDB
type InfluxDBArchive struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBArchive создает новый архив InfluxDB
func NewInfluxDBArchive(cfg config.ArchiveConfig) (*InfluxDBArchive, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBArchive{
		client:   client,
		queryAPI: client.QueryAPI(cfg.Organization),
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (a *InfluxDBArchive) Close() {
	a.client.Close()
}

// SaveCandles сохраняет дневные свечи в кэш
func (a *InfluxDBArchive) SaveCandles(ctx context.Context, candles []models.Candle) error {
	for _, candle := range candles {
		point := influxdb2.NewPoint(
			"candles",
			map[string]string{
				"symbol": candle.Symbol,
			},
			map[string]interface{}{
				"open":   candle.Open,
				"high":   candle.High,
				"low":    candle.Low,
				"close":  candle.Close,
				"volume": candle.Volume,
			},
			candle.OpenTime,
		)
		a.writeAPI.WritePoint(point)
	}

	a.writeAPI.Flush()
	return nil
}

// GetCandles получает свечи из кэша
func (a *InfluxDBArchive) GetCandles(ctx context.Context, symbol string, limit int) ([]models.Candle, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -2y)
			|> filter(fn: (r) => r._measurement == "candles")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, a.bucket, symbol, limit)

	result, err := a.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса свечей: %w", err)
	}

	var candles []models.Candle
	for result.Next() {
		record := result.Record()

		timestamp := record.Time()
		open, _ := record.ValueByKey("open").(float64)
		high, _ := record.ValueByKey("high").(float64)
		low, _ := record.ValueByKey("low").(float64)
		closePrice, _ := record.ValueByKey("close").(float64)
		volume, _ := record.ValueByKey("volume").(float64)

		candles = append(candles, models.Candle{
			Symbol:    symbol,
			OpenTime:  timestamp,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
			CloseTime: timestamp.Add(24 * time.Hour),
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	// Запрос отдает свечи новыми вперед, потребители ждут хронологию
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// SaveScore сохраняет оценку цикла в историю
func (a *InfluxDBArchive) SaveScore(ctx context.Context, score models.Score) error {
	fields := map[string]interface{}{
		"value":   score.Value,
		"verdict": score.Verdict,
		"price":   score.Price,
		"penalty": score.Penalty,
	}
	for name, component := range score.Components {
		fields["component_"+name] = component
	}

	point := influxdb2.NewPoint(
		"scores",
		map[string]string{
			"symbol": score.Ticker,
		},
		fields,
		score.Timestamp,
	)

	a.writeAPI.WritePoint(point)
	a.writeAPI.Flush()
	return nil
}

// GetScoreHistory получает историю оценок актива
func (a *InfluxDBArchive) GetScoreHistory(ctx context.Context, symbol string, limit int) ([]models.Score, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "scores")
			|> filter(fn: (r) => r.symbol == "%s")
			|> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: %d)
	`, a.bucket, symbol, limit)

	result, err := a.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса истории оценок: %w", err)
	}

	var scores []models.Score
	for result.Next() {
		record := result.Record()

		value, _ := record.ValueByKey("value").(int64)
		verdict, _ := record.ValueByKey("verdict").(string)
		price, _ := record.ValueByKey("price").(float64)
		penalty, _ := record.ValueByKey("penalty").(int64)

		scores = append(scores, models.Score{
			Ticker:    symbol,
			Timestamp: record.Time(),
			Price:     price,
			Value:     int(value),
			Verdict:   verdict,
			Penalty:   int(penalty),
		})
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}
	return scores, nil
}

var _ Archive = (*InfluxDBArchive)(nil)
