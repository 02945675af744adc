package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/pkg/models"
)

// Oracle — внешняя ML-способность: вероятность роста актива 0-100.
// Обучение и кадансы переобучения (~24 часа) — политика самого сервиса,
// ядро потребляет его как черный ящик.
type Oracle interface {
	Predict(ctx context.Context, ticker string, closes []float64) (Prediction, error)
}

// Prediction — ответ оракула
type Prediction struct {
	Probability float64       // вероятность роста, 0-100
	Accuracy    float64       // точность модели на тесте, 0-100
	Staleness   time.Duration // возраст модели
}

// HTTPOracle — клиент HTTP-сервиса оракула
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOracle создает клиент оракула с таймаутом из конфигурации
func NewHTTPOracle(cfg config.OracleConfig) *HTTPOracle {
	return &HTTPOracle{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type predictRequest struct {
	Symbol string    `json:"symbol"`
	Closes []float64 `json:"closes"`
}

type predictResponse struct {
	ProbaUp      float64 `json:"proba_up"`
	Accuracy     float64 `json:"accuracy"`
	StaleSeconds int64   `json:"stale_seconds"`
}

// Predict запрашивает вероятность роста у внешнего сервиса
func (o *HTTPOracle) Predict(ctx context.Context, ticker string, closes []float64) (Prediction, error) {
	var result Prediction
	if o.baseURL == "" {
		return result, fmt.Errorf("oracle: base URL не задан")
	}

	payload, err := json.Marshal(predictRequest{Symbol: ticker, Closes: closes})
	if err != nil {
		return result, fmt.Errorf("oracle: сериализация запроса: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return result, fmt.Errorf("oracle: создание запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("oracle: запрос: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("oracle: статус %d", resp.StatusCode)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return result, fmt.Errorf("oracle: разбор ответа: %w", err)
	}

	result.Probability = pr.ProbaUp
	result.Accuracy = pr.Accuracy
	result.Staleness = time.Duration(pr.StaleSeconds) * time.Second
	return result, nil
}

var _ Oracle = (*HTTPOracle)(nil)

// FundamentalsClient — клиент того же сервиса для фундаментальных данных
type FundamentalsClient struct {
	baseURL string
	client  *http.Client
}

// NewFundamentalsClient создает клиент фундаментальных данных
func NewFundamentalsClient(cfg config.OracleConfig) *FundamentalsClient {
	return &FundamentalsClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type fundamentalsResponse struct {
	EPS           float64 `json:"eps"`
	BookValue     float64 `json:"book_value"`
	DividendYield float64 `json:"dividend_yield"`
	ROE           float64 `json:"roe"`
	NetMargin     float64 `json:"net_margin"`
	Name          string  `json:"name"`
}

// Fundamentals запрашивает фундаментальные показатели эмитента
func (c *FundamentalsClient) Fundamentals(ctx context.Context, ticker string) (models.Fundamentals, error) {
	var result models.Fundamentals
	if c.baseURL == "" {
		return result, fmt.Errorf("fundamentals: base URL не задан")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fundamentals/"+ticker, nil)
	if err != nil {
		return result, fmt.Errorf("fundamentals: создание запроса: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return result, fmt.Errorf("fundamentals: запрос: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("fundamentals: статус %d", resp.StatusCode)
	}

	var fr fundamentalsResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return result, fmt.Errorf("fundamentals: разбор ответа: %w", err)
	}

	result.Ticker = ticker
	result.EPS = fr.EPS
	result.BookValue = fr.BookValue
	result.DividendYield = fr.DividendYield
	result.ROE = fr.ROE
	result.NetMargin = fr.NetMargin
	result.Name = fr.Name
	return result, nil
}
