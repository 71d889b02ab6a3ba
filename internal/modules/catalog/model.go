package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("product not found")
	ErrInvalidPrice = errors.New("invalid price")
)

type Product struct {
	ID        uuid.UUID       `db:"id"`
	Name      string          `db:"name"`
	Price     decimal.Decimal `db:"price"`
	ImageURL  string          `db:"image_url"`
	CreatedAt time.Time       `db:"created_at"`
}

// Draft is a product that has not been written yet. The store assigns the
// identifier and the creation time.
type Draft struct {
	Name     string          `db:"name"`
	Price    decimal.Decimal `db:"price"`
	ImageURL string          `db:"image_url"`
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("invalid Name: '%s'", d.Name)
	}

	if d.Price.IsNegative() {
		return fmt.Errorf("%w: '%s'", ErrInvalidPrice, d.Price)
	}

	if strings.TrimSpace(d.ImageURL) == "" {
		return fmt.Errorf("invalid ImageURL: '%s'", d.ImageURL)
	}

	return nil
}

// Snapshot is the complete, ordered result of the live query at one instant.
type Snapshot struct {
	Products []Product
}

// Unsubscribe releases a live query. It is safe to call more than once.
type Unsubscribe func()

type Store interface {
	Insert(ctx context.Context, d Draft) (uuid.UUID, error)
	UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Watch delivers the product list ordered by creation time, newest first,
	// once on subscription and again after every change. Delivery stops when
	// ctx ends or the returned Unsubscribe is called.
	Watch(ctx context.Context, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error)
}

// ParsePrice accepts the same inputs a numeric form field does and rejects
// anything negative.
func ParsePrice(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty", ErrInvalidPrice)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: '%s'", ErrInvalidPrice, raw)
	}

	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: '%s' is negative", ErrInvalidPrice, raw)
	}

	return price, nil
}

type ProductView struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
	ImageURL  string      `json:"imageUrl"`
	CreatedAt time.Time   `json:"createdAt"`
}

func NewProductView(p Product) ProductView {
	return ProductView{
		ID:        p.ID.String(),
		Name:      p.Name,
		Price:     json.Number(p.Price.String()),
		ImageURL:  p.ImageURL,
		CreatedAt: p.CreatedAt,
	}
}
