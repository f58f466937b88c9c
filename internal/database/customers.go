package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rentalcore/internal/models"
)

// UpsertCustomer inserts the customer, or updates contact details when ID is set.
func (db *DB) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	now := time.Now().UTC()
	if c.ID == 0 {
		result, err := db.ExecContext(ctx,
			`INSERT INTO customers (name, phone, telegram_chat_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			c.Name, c.Phone, c.TelegramChatID, now, now)
		if err != nil {
			return fmt.Errorf("failed to create customer: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		c.ID = id
		c.CreatedAt = now
		c.UpdatedAt = now
		return nil
	}

	result, err := db.ExecContext(ctx,
		`UPDATE customers SET name = ?, phone = ?, telegram_chat_id = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Phone, c.TelegramChatID, now, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrCustomerNotFound
	}
	c.UpdatedAt = now
	return nil
}

func (db *DB) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	var c models.Customer
	err := db.QueryRowContext(ctx,
		`SELECT id, name, phone, telegram_chat_id, created_at, updated_at FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.TelegramChatID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return &c, nil
}
