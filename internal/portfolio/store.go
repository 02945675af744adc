package portfolio

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/skalibog/quantd/internal/config"
	"github.com/skalibog/quantd/pkg/logger"
	"github.com/skalibog/quantd/pkg/models"
)

// Store — авторитетное транзакционное хранилище состояния портфеля.
// Все таблицы мультитенантные: каждая строка принадлежит одному tenant,
// операции никогда не пересекают границу tenant.
type Store struct {
	db     *sql.DB
	tenant int64
}

// NewStore открывает подключение и гарантирует наличие схемы
func NewStore(cfg config.StorageConfig, tenant int64) (*Store, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия соединения: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки соединения: %w", err)
	}

	store := &Store{db: db, tenant: tenant}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}

	logger.Info("Подключено хранилище портфеля", zap.Int64("tenant", tenant))
	return store, nil
}

// Close закрывает подключение
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallet (
			tenant BIGINT NOT NULL PRIMARY KEY,
			cash DOUBLE NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS positions (
			tenant BIGINT NOT NULL,
			ticker VARCHAR(32) NOT NULL,
			qty DOUBLE NOT NULL,
			avg_price DOUBLE NOT NULL,
			stop_loss DOUBLE NOT NULL DEFAULT 0,
			take_profit DOUBLE NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant, ticker)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			tenant BIGINT NOT NULL,
			ticker VARCHAR(32) NOT NULL,
			side VARCHAR(8) NOT NULL,
			qty DOUBLE NOT NULL,
			price DOUBLE NOT NULL,
			total DOUBLE NOT NULL,
			realized_pnl DOUBLE NOT NULL DEFAULT 0,
			note VARCHAR(255) NOT NULL DEFAULT '',
			executed_at DATETIME NOT NULL,
			INDEX idx_trades_tenant (tenant, executed_at)
		)`,
		`CREATE TABLE IF NOT EXISTS targets (
			tenant BIGINT NOT NULL,
			ticker VARCHAR(32) NOT NULL,
			target_pct DOUBLE NOT NULL,
			PRIMARY KEY (tenant, ticker)
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			tenant BIGINT NOT NULL,
			ticker VARCHAR(32) NOT NULL,
			setup VARCHAR(64) NOT NULL,
			signal_date DATE NOT NULL,
			price DOUBLE NOT NULL,
			status VARCHAR(32) NOT NULL DEFAULT 'NEW',
			UNIQUE KEY uniq_signal (tenant, ticker, setup, signal_date)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			tenant BIGINT NOT NULL,
			cfg_key VARCHAR(64) NOT NULL,
			cfg_value VARCHAR(255) NOT NULL,
			PRIMARY KEY (tenant, cfg_key)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка создания схемы: %w", err)
		}
	}
	return nil
}

// Load возвращает снимок портфеля: кэш и открытые позиции
func (s *Store) Load(ctx context.Context) (models.Portfolio, error) {
	portfolio := models.Portfolio{Positions: make(map[string]models.Position)}

	err := s.db.QueryRowContext(ctx,
		`SELECT cash FROM wallet WHERE tenant = ?`, s.tenant).Scan(&portfolio.Cash)
	if err == sql.ErrNoRows {
		portfolio.Cash = 0
	} else if err != nil {
		return portfolio, fmt.Errorf("ошибка чтения кошелька: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, qty, avg_price, stop_loss, take_profit
		 FROM positions WHERE tenant = ? AND qty > 0`, s.tenant)
	if err != nil {
		return portfolio, fmt.Errorf("ошибка чтения позиций: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ticker string
		var pos models.Position
		if err := rows.Scan(&ticker, &pos.Qty, &pos.AvgPrice, &pos.Stop, &pos.Take); err != nil {
			return portfolio, fmt.Errorf("ошибка чтения позиции: %w", err)
		}
		portfolio.Positions[ticker] = pos
	}
	return portfolio, rows.Err()
}

// Deposit пополняет кошелек
func (s *Store) Deposit(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("сумма пополнения должна быть положительной")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallet (tenant, cash) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE cash = cash + VALUES(cash)`,
		s.tenant, amount)
	if err != nil {
		return fmt.Errorf("ошибка пополнения: %w", err)
	}
	return nil
}

// RecordTrade исполняет сделку атомарно: проверки, изменение кошелька,
// позиция и строка журнала — одна транзакция. Отказ любой проверки
// оставляет состояние нетронутым. Возвращает реализованный P&L
// (ненулевой только для продаж).
func (s *Store) RecordTrade(ctx context.Context, trade models.Trade) (float64, error) {
	if trade.Qty <= 0 || trade.Price <= 0 {
		return 0, fmt.Errorf("количество и цена должны быть положительными")
	}
	if trade.Side != models.SideBuy && trade.Side != models.SideSell {
		return 0, fmt.Errorf("неизвестная сторона сделки: %s", trade.Side)
	}

	var realized float64
	err := s.execTx(ctx, func(tx *sql.Tx) error {
		var cash float64
		err := tx.QueryRowContext(ctx,
			`SELECT cash FROM wallet WHERE tenant = ? FOR UPDATE`, s.tenant).Scan(&cash)
		if err == sql.ErrNoRows {
			cash = 0
		} else if err != nil {
			return fmt.Errorf("ошибка блокировки кошелька: %w", err)
		}

		var qty, avgPrice float64
		err = tx.QueryRowContext(ctx,
			`SELECT qty, avg_price FROM positions
			 WHERE tenant = ? AND ticker = ? FOR UPDATE`,
			s.tenant, trade.Ticker).Scan(&qty, &avgPrice)
		if err == sql.ErrNoRows {
			qty, avgPrice = 0, 0
		} else if err != nil {
			return fmt.Errorf("ошибка блокировки позиции: %w", err)
		}

		total := trade.Qty * trade.Price

		switch trade.Side {
		case models.SideBuy:
			if cash < total {
				return fmt.Errorf("недостаточно средств: нужно %.2f, доступно %.2f", total, cash)
			}
			newQty := qty + trade.Qty
			newAvg := (qty*avgPrice + total) / newQty

			if _, err := tx.ExecContext(ctx,
				`UPDATE wallet SET cash = cash - ? WHERE tenant = ?`,
				total, s.tenant); err != nil {
				return fmt.Errorf("ошибка списания: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO positions (tenant, ticker, qty, avg_price) VALUES (?, ?, ?, ?)
				 ON DUPLICATE KEY UPDATE qty = VALUES(qty), avg_price = VALUES(avg_price)`,
				s.tenant, trade.Ticker, newQty, newAvg); err != nil {
				return fmt.Errorf("ошибка обновления позиции: %w", err)
			}

		case models.SideSell:
			if qty < trade.Qty {
				return fmt.Errorf("недостаточно бумаг: нужно %.4f, в позиции %.4f", trade.Qty, qty)
			}
			realized = (trade.Price - avgPrice) * trade.Qty

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO wallet (tenant, cash) VALUES (?, ?)
				 ON DUPLICATE KEY UPDATE cash = cash + VALUES(cash)`,
				s.tenant, total); err != nil {
				return fmt.Errorf("ошибка зачисления: %w", err)
			}
			remaining := qty - trade.Qty
			if remaining > 0 {
				if _, err := tx.ExecContext(ctx,
					`UPDATE positions SET qty = ? WHERE tenant = ? AND ticker = ?`,
					remaining, s.tenant, trade.Ticker); err != nil {
					return fmt.Errorf("ошибка обновления позиции: %w", err)
				}
			} else {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM positions WHERE tenant = ? AND ticker = ?`,
					s.tenant, trade.Ticker); err != nil {
					return fmt.Errorf("ошибка закрытия позиции: %w", err)
				}
			}
		}

		timestamp := trade.Timestamp
		if timestamp.IsZero() {
			timestamp = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trades (tenant, ticker, side, qty, price, total, realized_pnl, note, executed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.tenant, trade.Ticker, trade.Side, trade.Qty, trade.Price, total, realized, trade.Note, timestamp); err != nil {
			return fmt.Errorf("ошибка записи в журнал: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return realized, nil
}

// SetProtection устанавливает уровни стопа и тейка открытой позиции
func (s *Store) SetProtection(ctx context.Context, ticker string, stop, take float64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE positions SET stop_loss = ?, take_profit = ?
		 WHERE tenant = ? AND ticker = ?`,
		stop, take, s.tenant, ticker)
	if err != nil {
		return fmt.Errorf("ошибка установки защиты: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		logger.Warn("Защита установлена по отсутствующей позиции",
			zap.String("ticker", ticker))
	}
	return nil
}

// Trades возвращает журнал сделок, новые первыми
func (s *Store) Trades(ctx context.Context, limit int) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticker, side, qty, price, total, realized_pnl, note, executed_at
		 FROM trades WHERE tenant = ?
		 ORDER BY executed_at DESC, id DESC LIMIT ?`,
		s.tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.Ticker, &t.Side, &t.Qty, &t.Price,
			&t.Total, &t.RealizedPnL, &t.Note, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("ошибка чтения сделки: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RecordSignal фиксирует сигнал с дедупликацией по календарному дню.
// Возвращает true, если сигнал новый; false — если такой сигнал по
// активу и сетапу сегодня уже был.
func (s *Store) RecordSignal(ctx context.Context, signal models.Signal) (bool, error) {
	date := signal.Date
	if date.IsZero() {
		date = time.Now()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO signals (tenant, ticker, setup, signal_date, price, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.tenant, signal.Ticker, signal.Setup, date.Format("2006-01-02"),
		signal.Price, signalStatus(signal.Status))
	if err != nil {
		return false, fmt.Errorf("ошибка записи сигнала: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка записи сигнала: %w", err)
	}
	return affected > 0, nil
}

func signalStatus(status string) string {
	if status == "" {
		return "NEW"
	}
	return status
}

// LoadTargets возвращает целевые доли распределения портфеля (в процентах)
func (s *Store) LoadTargets(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, target_pct FROM targets WHERE tenant = ?`, s.tenant)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения целей: %w", err)
	}
	defer rows.Close()

	targets := make(map[string]float64)
	for rows.Next() {
		var ticker string
		var pct float64
		if err := rows.Scan(&ticker, &pct); err != nil {
			return nil, fmt.Errorf("ошибка чтения цели: %w", err)
		}
		targets[ticker] = pct
	}
	return targets, rows.Err()
}

// SaveTarget сохраняет целевую долю актива
func (s *Store) SaveTarget(ctx context.Context, ticker string, pct float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (tenant, ticker, target_pct) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE target_pct = VALUES(target_pct)`,
		s.tenant, ticker, pct)
	if err != nil {
		return fmt.Errorf("ошибка сохранения цели: %w", err)
	}
	return nil
}

// Setting возвращает значение настройки tenant (пустая строка, если нет)
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT cfg_value FROM settings WHERE tenant = ? AND cfg_key = ?`,
		s.tenant, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения настройки: %w", err)
	}
	return value, nil
}

// SaveSetting сохраняет настройку tenant
func (s *Store) SaveSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (tenant, cfg_key, cfg_value) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE cfg_value = VALUES(cfg_value)`,
		s.tenant, key, value)
	if err != nil {
		return fmt.Errorf("ошибка сохранения настройки: %w", err)
	}
	return nil
}

func (s *Store) execTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("ошибка транзакции: %v, откат: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
