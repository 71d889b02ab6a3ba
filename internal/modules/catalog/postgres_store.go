package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eskrenkovic/price-tracker/internal/modules/core"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ChangesChannel is the LISTEN/NOTIFY channel the product table trigger
// publishes on.
const ChangesChannel = "product_changed"

const (
	minReconnectInterval = 5 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingInterval = 90 * time.Second
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps products in PostgreSQL. One pq.Listener per store turns
// table notifications into fresh snapshots for every watcher.
type PostgresStore struct {
	db       *sqlx.DB
	listener *pq.Listener
	log      *zap.Logger
	watchers *watcherSet

	closeOnce sync.Once
	done      chan struct{}
}

func NewPostgresStore(db *sqlx.DB, databaseURL string, log *zap.Logger) (*PostgresStore, error) {
	s := &PostgresStore{
		db:       db,
		log:      log,
		watchers: newWatcherSet(),
		done:     make(chan struct{}),
	}

	s.listener = pq.NewListener(databaseURL, minReconnectInterval, maxReconnectInterval, s.onListenerEvent)
	if err := s.listener.Listen(ChangesChannel); err != nil {
		_ = s.listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangesChannel, err)
	}

	go s.listen()

	return s, nil
}

func (s *PostgresStore) Insert(ctx context.Context, d Draft) (uuid.UUID, error) {
	if err := d.Validate(); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	params := map[string]interface{}{
		"id":        id,
		"name":      d.Name,
		"price":     d.Price,
		"image_url": d.ImageURL,
	}

	const stmt = `
		INSERT INTO
			product (id, name, price, image_url)
		VALUES
			(:id, :name, :price, :image_url);`

	if _, err := s.db.NamedExecContext(ctx, stmt, params); err != nil {
		return uuid.Nil, err
	}

	return id, nil
}

func (s *PostgresStore) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	if price.IsNegative() {
		return ErrInvalidPrice
	}

	const stmt = `
		UPDATE
			product
		SET
			price = $1
		WHERE
			id = $2;`

	result, err := s.db.ExecContext(ctx, stmt, price, id)
	if err != nil {
		return err
	}

	return core.RowsAffected(result, ErrNotFound)
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	const stmt = `
		DELETE FROM
			product
		WHERE
			id = $1;`

	result, err := s.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return err
	}

	return core.RowsAffected(result, ErrNotFound)
}

func (s *PostgresStore) Watch(ctx context.Context, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error) {
	select {
	case <-s.done:
		return nil, fmt.Errorf("product store is closed")
	default:
	}

	return s.watchers.add(ctx, s.snapshot, onSnapshot, onError), nil
}

func (s *PostgresStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.watchers.stopAll()
		err = s.listener.Close()
	})
	return err
}

func (s *PostgresStore) snapshot(ctx context.Context) (Snapshot, error) {
	const query = `
		SELECT
			id, name, price, image_url, created_at
		FROM
			product
		ORDER BY
			created_at DESC, seq DESC;`

	products := []Product{}
	if err := s.db.SelectContext(ctx, &products, query); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{Products: products}, nil
}

func (s *PostgresStore) listen() {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}

			// A nil notification means the connection was re-established and
			// changes may have been missed.
			if n == nil {
				s.log.Info("product listener reconnected")
			}

			s.watchers.markAllDirty()
		case <-ticker.C:
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.log.Warn("product listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (s *PostgresStore) onListenerEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventDisconnected:
		s.log.Error("product listener disconnected", zap.Error(err))
		s.watchers.failAll(fmt.Errorf("lost connection to product feed: %w", err))
	case pq.ListenerEventConnectionAttemptFailed:
		s.log.Warn("product listener reconnect failed", zap.Error(err))
	}
}
