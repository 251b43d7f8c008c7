package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"live-auction/internal/biddingerrors"
	model "live-auction/internal/models"

	"github.com/go-sql-driver/mysql"
)

//go:embed schema.sql
var schema string

// mysqlDuplicateEntry is the server error number for unique key violations
const mysqlDuplicateEntry = 1062

// MySQLOptions holds what is needed to open the MySQL connection pool
type MySQLOptions struct {
	User     string
	Password string
	Addr     string
	DBName   string
	MaxConns int
}

// OpenMySQL opens and pings a MySQL connection pool
func OpenMySQL(ctx context.Context, opts MySQLOptions) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = opts.Addr
	cfg.DBName = opts.DBName
	cfg.AllowNativePasswords = true
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// MySQLRepo is the durable AuctionDB backed by MySQL
type MySQLRepo struct {
	db *sql.DB
}

// Compile-time check to ensure MySQLRepo implements AuctionDB
var _ AuctionDB = (*MySQLRepo)(nil)

// NewMySQLRepo wraps an open connection pool
func NewMySQLRepo(db *sql.DB) *MySQLRepo {
	return &MySQLRepo{db: db}
}

// Migrate creates the tables if they do not exist
func (r *MySQLRepo) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// CreateUser inserts a user, mapping the unique email violation to ErrEmailTaken
func (r *MySQLRepo) CreateUser(ctx context.Context, email, passwordHash string) (model.User, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)",
		email, passwordHash, now,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return model.User{}, fmt.Errorf("create user %s: %w", email, biddingerrors.ErrEmailTaken)
		}
		return model.User{}, fmt.Errorf("create user %s: %w", email, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("create user %s: last insert id: %w", email, err)
	}
	return model.User{ID: id, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetUserByEmail loads a user by email
func (r *MySQLRepo) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := r.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ? LIMIT 1",
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("get user %s: %w", email, biddingerrors.ErrUserNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", email, err)
	}
	return u, nil
}

// CreateAuction inserts an auction row and returns its identifier
func (r *MySQLRepo) CreateAuction(ctx context.Context, auction model.Auction) (int64, error) {
	var image sql.NullString
	if auction.ImageURL != nil && *auction.ImageURL != "" {
		image = sql.NullString{String: *auction.ImageURL, Valid: true}
	}
	createdAt := auction.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		"INSERT INTO auctions (user_id, item, starting_price, image_url, end_time, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		auction.OwnerID, auction.Item, auction.StartingPrice, image, auction.EndTime.UTC(), createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("create auction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create auction: last insert id: %w", err)
	}
	return id, nil
}

const getAuctionQuery = `SELECT a.id, a.user_id, a.item, a.starting_price, a.image_url, a.end_time, a.closed_at, a.created_at,
	COALESCE(MAX(b.price), a.starting_price) AS current_price,
	COALESCE(MAX(b.seq), 0) AS last_seq
FROM auctions a
LEFT JOIN bids b ON b.auction_id = a.id
WHERE a.id = ?
GROUP BY a.id`

// GetAuction loads an auction with the current price and last sequence derived from its bids
func (r *MySQLRepo) GetAuction(ctx context.Context, auctionID int64) (model.Auction, error) {
	var (
		a        model.Auction
		image    sql.NullString
		closedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, getAuctionQuery, auctionID).Scan(
		&a.ID, &a.OwnerID, &a.Item, &a.StartingPrice, &image, &a.EndTime, &closedAt, &a.CreatedAt,
		&a.CurrentPrice, &a.LastSeq,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %d: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %d: %w", auctionID, err)
	}

	if image.Valid {
		a.ImageURL = &image.String
	}
	a.Status = model.StatusOpen
	if closedAt.Valid {
		a.Status = model.StatusClosed
	}
	return a, nil
}

// CloseAuction sets closed_at once; closing an already closed auction is a no-op
func (r *MySQLRepo) CloseAuction(ctx context.Context, auctionID int64, closedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE auctions SET closed_at = ? WHERE id = ? AND closed_at IS NULL",
		closedAt.UTC(), auctionID,
	)
	if err != nil {
		return fmt.Errorf("close auction %d: %w", auctionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close auction %d: rows affected: %w", auctionID, err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = r.db.QueryRowContext(ctx, "SELECT 1 FROM auctions WHERE id = ?", auctionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("close auction %d: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return fmt.Errorf("close auction %d: %w", auctionID, err)
	}
	return nil
}

// RecordBid appends a bid; the (auction_id, seq) unique key rejects double appends
func (r *MySQLRepo) RecordBid(ctx context.Context, bid model.Bid) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO bids (id, auction_id, user_id, email, price, seq, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		bid.ID, bid.AuctionID, bid.BidderID, bid.BidderEmail, bid.Price, bid.Seq, bid.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return fmt.Errorf("record bid seq %d for auction %d: %w", bid.Seq, bid.AuctionID, biddingerrors.ErrDuplicateBid)
		}
		return fmt.Errorf("record bid for auction %d: %w", bid.AuctionID, err)
	}
	return nil
}

// GetBidsByAuction returns up to limit bids, most recent first. limit <= 0 returns all.
func (r *MySQLRepo) GetBidsByAuction(ctx context.Context, auctionID int64, limit int) ([]model.Bid, error) {
	query := "SELECT id, auction_id, user_id, email, price, seq, created_at FROM bids WHERE auction_id = ? ORDER BY seq DESC"
	args := []any{auctionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %d: %w", auctionID, err)
	}
	defer rows.Close()

	bids := make([]model.Bid, 0)
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.BidderEmail, &b.Price, &b.Seq, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("get bids for auction %d: scan: %w", auctionID, err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get bids for auction %d: %w", auctionID, err)
	}
	return bids, nil
}
