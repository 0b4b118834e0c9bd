package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrConsumerNotFound = errors.New("consumer not found")
	ErrTierNotFound     = errors.New("tier not found")
)

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Consumer is the licensee. Contact fields are copied into issued licenses.
type Consumer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Tier supplies default features and caps for a product edition
type Tier struct {
	ID                 string    `json:"id"`
	ProductID          string    `json:"productId"`
	Name               string    `json:"name"`
	Features           []string  `json:"features,omitempty"`
	MaxActivations     int       `json:"maxActivations,omitempty"`
	MaxConcurrentUsers int       `json:"maxConcurrentUsers,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

type DirectoryStore struct {
	db *sql.DB
}

func NewDirectoryStore(db *sql.DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

func (s *DirectoryStore) CreateProduct(ctx context.Context, product *Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, created_at) VALUES (?, ?, ?)`,
		product.ID, product.Name, product.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *DirectoryStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	product := &Product{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM products WHERE id = ?`, id,
	).Scan(&product.ID, &product.Name, &product.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	return product, nil
}

func (s *DirectoryStore) CreateConsumer(ctx context.Context, consumer *Consumer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consumers (id, name, email, company, created_at) VALUES (?, ?, ?, ?, ?)`,
		consumer.ID, consumer.Name, consumer.Email, consumer.Company, consumer.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert consumer: %w", err)
	}
	return nil
}

func (s *DirectoryStore) GetConsumer(ctx context.Context, id string) (*Consumer, error) {
	consumer := &Consumer{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, company, created_at FROM consumers WHERE id = ?`, id,
	).Scan(&consumer.ID, &consumer.Name, &consumer.Email, &consumer.Company, &consumer.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConsumerNotFound
	}
	if err != nil {
		return nil, err
	}

	return consumer, nil
}

func (s *DirectoryStore) CreateTier(ctx context.Context, tier *Tier) error {
	features, err := encodeJSON(tier.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tiers (id, product_id, name, features, max_activations, max_concurrent_users, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tier.ID, tier.ProductID, tier.Name, features, tier.MaxActivations, tier.MaxConcurrentUsers, tier.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tier: %w", err)
	}
	return nil
}

func (s *DirectoryStore) GetTier(ctx context.Context, id string) (*Tier, error) {
	tier := &Tier{}
	var features sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, name, features, max_activations, max_concurrent_users, created_at
		 FROM tiers WHERE id = ?`, id,
	).Scan(&tier.ID, &tier.ProductID, &tier.Name, &features, &tier.MaxActivations, &tier.MaxConcurrentUsers, &tier.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTierNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(features, &tier.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}

	return tier, nil
}
