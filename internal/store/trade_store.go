package store

import (
	"context"

	"fxbilling/internal/models"
)

type TradeStore struct {
	db DB
}

func NewTradeStore(db DB) *TradeStore {
	return &TradeStore{db: db}
}

// Upsert creates or refreshes a trade keyed by (trade_account_id,
// mt5_order_id). Returns true when a new row was inserted (xmax = 0 only
// for freshly inserted tuples).
func (s *TradeStore) Upsert(ctx context.Context, tx Tx, trade models.Trade) (bool, error) {
	var created bool
	err := tx.GetContext(ctx, &created, `
		INSERT INTO trades (
			id, trade_account_id, mt5_order_id, symbol, position_type,
			position_status, opened_at, closed_at, entry_price, exit_price,
			take_profit, stop_loss, lot_size, profit_loss, commission, swap_fee
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (trade_account_id, mt5_order_id) DO UPDATE
		SET position_status = EXCLUDED.position_status,
		    closed_at = EXCLUDED.closed_at,
		    exit_price = EXCLUDED.exit_price,
		    profit_loss = EXCLUDED.profit_loss,
		    commission = EXCLUDED.commission,
		    swap_fee = EXCLUDED.swap_fee
		RETURNING (xmax = 0) AS created
	`, trade.ID, trade.TradeAccountID, trade.MT5OrderID, trade.Symbol,
		trade.PositionType, trade.PositionStatus, trade.OpenedAt, trade.ClosedAt,
		trade.EntryPrice, trade.ExitPrice, trade.TakeProfit, trade.StopLoss,
		trade.LotSize, trade.ProfitLoss, trade.Commission, trade.SwapFee)
	return created, err
}

func (s *TradeStore) ListByAccount(ctx context.Context, accountID string, status models.PositionStatus, limit int) ([]models.Trade, error) {
	var rows []models.Trade
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, trade_account_id, mt5_order_id, symbol, position_type,
		       position_status, opened_at, closed_at, entry_price, exit_price,
		       take_profit, stop_loss, lot_size, profit_loss, commission,
		       swap_fee, created_at
		FROM trades
		WHERE trade_account_id = $1
		  AND ($2 = '' OR position_status = $2)
		ORDER BY opened_at DESC
		LIMIT $3
	`, accountID, status, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type TradeStats struct {
	TotalTrades   int    `db:"total_trades"`
	WinningTrades int    `db:"winning_trades"`
	TotalPnL      string `db:"total_pnl"`
}

// Stats aggregates closed trades for the dashboard snapshot.
func (s *TradeStore) Stats(ctx context.Context, accountID string) (TradeStats, error) {
	var stats TradeStats
	err := s.db.GetContext(ctx, &stats, `
		SELECT COUNT(*) AS total_trades,
		       COUNT(*) FILTER (WHERE profit_loss > 0) AS winning_trades,
		       COALESCE(SUM(profit_loss), 0)::text AS total_pnl
		FROM trades
		WHERE trade_account_id = $1 AND position_status = 'CLOSED'
	`, accountID)
	return stats, err
}
