package postgres

import (
	"context"
	"database/sql"
	"time"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/repository"
)

type itemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) repository.ItemRepository {
	return &itemRepository{db: db}
}

const itemColumns = `id, owner_id, title, description, category, condition, value_paise, listed_price, demand, is_available, view_count, rental_count, created_at, updated_at, delisted_at`

func (r *itemRepository) Create(ctx context.Context, it *domain.Item) error {
	query := `INSERT INTO items (` + itemColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.db.ExecContext(ctx, query, it.ID, it.OwnerID, it.Title, it.Description, it.Category, it.Condition, it.ValuePaise, it.ListedPrice, it.Demand, it.IsAvailable, it.ViewCount, it.RentalCount, it.CreatedAt, it.UpdatedAt, it.DelistedAt)
	return mapErr(err)
}

func (r *itemRepository) GetByID(ctx context.Context, id string) (*domain.Item, error) {
	it := &domain.Item{}
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&it.ID, &it.OwnerID, &it.Title, &it.Description, &it.Category, &it.Condition, &it.ValuePaise, &it.ListedPrice, &it.Demand, &it.IsAvailable, &it.ViewCount, &it.RentalCount, &it.CreatedAt, &it.UpdatedAt, &it.DelistedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return it, nil
}

func (r *itemRepository) Update(ctx context.Context, it *domain.Item) error {
	query := `UPDATE items SET title=$1, description=$2, category=$3, condition=$4, value_paise=$5, listed_price=$6, demand=$7, updated_at=$8 WHERE id=$9`
	res, err := r.db.ExecContext(ctx, query, it.Title, it.Description, it.Category, it.Condition, it.ValuePaise, it.ListedPrice, it.Demand, time.Now(), it.ID)
	return expectOne(res, err)
}

func (r *itemRepository) Delist(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE items SET delisted_at=$1, updated_at=$1 WHERE id=$2 AND delisted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, at, id)
	return expectOne(res, err)
}

// Reserve is a single conditional UPDATE, so two concurrent reservations of
// the same item cannot both succeed.
func (r *itemRepository) Reserve(ctx context.Context, id string) error {
	query := `UPDATE items SET is_available = FALSE, updated_at = $1 WHERE id = $2 AND is_available AND delisted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrItemUnavailable.With("item_id", id)
}

func (r *itemRepository) Release(ctx context.Context, id string) error {
	query := `UPDATE items SET is_available = TRUE, updated_at = $1 WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, time.Now(), id)
	return expectOne(res, err)
}

func (r *itemRepository) IncrementViewCount(ctx context.Context, id string) (int64, error) {
	var n int64
	query := `UPDATE items SET view_count = view_count + 1 WHERE id = $1 RETURNING view_count`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&n)
	return n, mapErr(err)
}

func (r *itemRepository) IncrementRentalCount(ctx context.Context, id string) (int64, error) {
	var n int64
	query := `UPDATE items SET rental_count = rental_count + 1 WHERE id = $1 RETURNING rental_count`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&n)
	return n, mapErr(err)
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
