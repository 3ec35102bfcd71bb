package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shareshelf/shareshelf/internal/domain"
)

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore backed by the given connection pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

const itemSelectCols = `id, owner_id, title, exchange_type, price_cents,
	resource_key, resource_content_type, available, created_at, updated_at`

func scanItem(scanner interface{ Scan(dest ...any) error }) (domain.Item, error) {
	var it domain.Item
	var exchangeType string

	err := scanner.Scan(
		&it.ID, &it.OwnerID, &it.Title, &exchangeType, &it.PriceCents,
		&it.ResourceKey, &it.ResourceContentType, &it.Available,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return domain.Item{}, err
	}

	it.ExchangeType = domain.ExchangeType(exchangeType)
	return it, nil
}

func scanItemRows(rows pgx.Rows) ([]domain.Item, error) {
	var items []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Create inserts a new item and returns it with its generated id.
func (s *ItemStore) Create(ctx context.Context, it domain.Item) (domain.Item, error) {
	const query = `
		INSERT INTO items (owner_id, title, exchange_type, price_cents,
			resource_key, resource_content_type, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + itemSelectCols

	row := s.pool.QueryRow(ctx, query,
		it.OwnerID, it.Title, string(it.ExchangeType), it.PriceCents,
		it.ResourceKey, it.ResourceContentType, it.Available,
	)

	created, err := scanItem(row)
	if err != nil {
		return domain.Item{}, fmt.Errorf("postgres: create item: %w", err)
	}
	return created, nil
}

// GetByID retrieves a single item by id.
func (s *ItemStore) GetByID(ctx context.Context, id int64) (domain.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemSelectCols+` FROM items WHERE id = $1`, id)

	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Item{}, domain.ErrNotFound
		}
		return domain.Item{}, fmt.Errorf("postgres: get item %d: %w", id, err)
	}
	return it, nil
}

// ListAvailable returns available items with pagination.
func (s *ItemStore) ListAvailable(ctx context.Context, opts domain.ListOpts) ([]domain.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemSelectCols+` FROM items
		 WHERE available = TRUE
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list available items: %w", err)
	}
	defer rows.Close()

	items, err := scanItemRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan available items: %w", err)
	}
	return items, nil
}

// ListByOwner returns all items owned by ownerID with pagination.
func (s *ItemStore) ListByOwner(ctx context.Context, ownerID int64, opts domain.ListOpts) ([]domain.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemSelectCols+` FROM items
		 WHERE owner_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, ownerID, limitOf(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list items by owner: %w", err)
	}
	defer rows.Close()

	items, err := scanItemRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan items by owner: %w", err)
	}
	return items, nil
}

// SetAvailability flips the availability flag on an item.
func (s *ItemStore) SetAvailability(ctx context.Context, id int64, available bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET available = $1, updated_at = NOW() WHERE id = $2`,
		available, id)
	if err != nil {
		return fmt.Errorf("postgres: set item %d availability: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// limitOf applies the default page size when opts carry none.
func limitOf(opts domain.ListOpts) int {
	if opts.Limit > 0 {
		return opts.Limit
	}
	return 50
}

// Compile-time interface check.
var _ domain.ItemStore = (*ItemStore)(nil)
