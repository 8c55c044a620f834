package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtrntr/dexsim/internal/auth"
	"github.com/xtrntr/dexsim/internal/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool. It stores users and journals the
// trades and swaps the engines produce; engine state is never loaded from it.
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, auth.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// RecordTrades appends trades to the journal in one batch
func (db *DB) RecordTrades(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(
			"INSERT INTO trades (id, pair, price, quantity, buy_order_id, sell_order_id, buyer, seller, taker_side, executed_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
			t.ID, t.Pair, t.Price, t.Quantity, int64(t.BuyOrderID), int64(t.SellOrderID), t.Buyer, t.Seller, string(t.TakerSide), t.ExecutedAt)
	}
	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to record trades: %w", err)
	}
	return nil
}

// RecordSwap appends an executed swap to the journal
func (db *DB) RecordSwap(ctx context.Context, s models.SwapRecord) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO swaps (id, pool_id, trader, direction, amount_out, amount_in, fee, price_before, price_after, executed_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		s.ID, s.PoolID, s.Trader, string(s.Quote.Direction), s.Quote.AmountOut, s.Quote.AmountInWithFee,
		s.Quote.Fee, s.Quote.PriceBefore, s.Quote.PriceAfter, s.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to record swap: %w", err)
	}
	return nil
}

// GetTraderTrades retrieves every journaled trade a trader took part in, oldest first
func (db *DB) GetTraderTrades(ctx context.Context, trader string) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, pair, price, quantity, buy_order_id, sell_order_id, buyer, seller, taker_side, executed_at "+
			"FROM trades WHERE buyer = $1 OR seller = $1 ORDER BY executed_at ASC",
		trader)
	if err != nil {
		return nil, fmt.Errorf("failed to get trader trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t         models.Trade
			buyID     int64
			sellID    int64
			takerSide string
		)
		if err := rows.Scan(&t.ID, &t.Pair, &t.Price, &t.Quantity, &buyID, &sellID, &t.Buyer, &t.Seller, &takerSide, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.BuyOrderID, t.SellOrderID, t.TakerSide = uint64(buyID), uint64(sellID), models.Side(takerSide)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	return trades, nil
}

// CountSwaps returns how many swaps were journaled for a pool
func (db *DB) CountSwaps(ctx context.Context, poolID string) (int, error) {
	var n int
	if err := db.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM swaps WHERE pool_id = $1", poolID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count swaps: %w", err)
	}
	return n, nil
}
