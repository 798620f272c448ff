// TradeBlocks - Options Backtest Analytics
// Copyright 2026 TradeBlocks contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tradeblocks/tradeblocks

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// initSchema creates the core tables on a read-write open. All statements
// are idempotent; read-only handles never run this.
func initSchema(ctx context.Context, db *sql.DB) error {
	queries := []string{
		// Backtest trade log, one row per closed position.
		`CREATE TABLE IF NOT EXISTS trades (
			date_opened DATE NOT NULL,
			time_opened TIME,
			date_closed DATE,
			time_closed TIME,
			strategy VARCHAR NOT NULL,
			legs VARCHAR,
			num_contracts INTEGER,
			opening_price DOUBLE,
			closing_price DOUBLE,
			premium DOUBLE,
			pl DOUBLE NOT NULL,
			opening_commissions DOUBLE,
			closing_commissions DOUBLE,
			margin_req DOUBLE,
			funds_at_close DOUBLE,
			max_profit DOUBLE,
			max_loss DOUBLE
		)`,

		// Daily SPX/VIX market context used to condition backtest results.
		`CREATE TABLE IF NOT EXISTS spx_daily (
			date DATE PRIMARY KEY,
			ticker VARCHAR DEFAULT 'SPX',
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			prior_close DOUBLE,
			gap_pct DOUBLE,
			intraday_range_pct DOUBLE,
			intraday_return_pct DOUBLE,
			total_return_pct DOUBLE,
			close_position_in_range DOUBLE,
			gap_filled INTEGER,
			return_5d DOUBLE,
			return_20d DOUBLE,
			consecutive_days INTEGER,
			rsi_14 DOUBLE,
			atr_pct DOUBLE,
			price_vs_ema21_pct DOUBLE,
			price_vs_sma50_pct DOUBLE,
			bb_position DOUBLE,
			trend_score INTEGER,
			day_of_week INTEGER,
			month INTEGER,
			is_opex INTEGER,
			vix_open DOUBLE,
			vix_high DOUBLE,
			vix_low DOUBLE,
			vix_close DOUBLE,
			vix_change_pct DOUBLE,
			vix_gap_pct DOUBLE,
			vix_spike_pct DOUBLE,
			vix9d_close DOUBLE,
			vix3m_close DOUBLE,
			term_structure_state INTEGER,
			volatility_regime INTEGER
		)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
