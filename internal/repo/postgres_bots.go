package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

type PostgresBotRepo struct {
	db *sql.DB
}

func NewPostgresBotRepo(db *sql.DB) *PostgresBotRepo {
	return &PostgresBotRepo{db: db}
}

func (r *PostgresBotRepo) ListRecoverable(ctx context.Context) ([]model.BotRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, external_bot_id, bot_name, customer_id, status
		FROM bots
		WHERE external_bot_id IS NOT NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BotRecord
	for rows.Next() {
		var b model.BotRecord
		var name, customerID, status sql.NullString
		if err := rows.Scan(&b.ID, &b.ExternalBotID, &name, &customerID, &status); err != nil {
			return nil, err
		}
		b.BotName = name.String
		b.CustomerID = customerID.String
		b.Status = model.Status(status.String)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ResolveRelay reads the customer's master group and delay together with the
// bot's distribution groups in insertion order.
func (r *PostgresBotRepo) ResolveRelay(ctx context.Context, customerID, botID string) (model.RelayConfig, error) {
	var (
		cfg    model.RelayConfig
		source sql.NullString
		delay  sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT master_group_link, message_delay_seconds
		FROM customers
		WHERE id = $1
	`, customerID).Scan(&source, &delay)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, fmt.Errorf("customer %s: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return cfg, err
	}
	cfg.SourceConversationID = source.String
	if delay.Valid && delay.Int64 > 0 {
		cfg.DelaySeconds = int(delay.Int64)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT g.group_id, COALESCE(g.group_name, '')
		FROM bot_distribution_groups g
		JOIN bots b ON b.id = g.bot_id
		WHERE b.external_bot_id = $1
		ORDER BY g.id ASC
	`, botID)
	if err != nil {
		return cfg, err
	}
	defer rows.Close()

	for rows.Next() {
		var d model.Destination
		if err := rows.Scan(&d.ID, &d.Label); err != nil {
			return cfg, err
		}
		cfg.Destinations = append(cfg.Destinations, d)
	}
	return cfg, rows.Err()
}

func (r *PostgresBotRepo) SaveConnected(ctx context.Context, botID, phone string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bots
		SET status = 'connected',
		    phone_number = $2,
		    connected_at = $3,
		    last_active = $3,
		    updated_at = now()
		WHERE external_bot_id = $1
	`, botID, phone, at.UTC())
	return err
}

func (r *PostgresBotRepo) UpdateStatus(ctx context.Context, botID string, status model.Status) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bots
		SET status = $2,
		    updated_at = now()
		WHERE external_bot_id = $1
	`, botID, string(status))
	return err
}

func (r *PostgresBotRepo) TouchLastActive(ctx context.Context, botID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bots
		SET last_active = $2
		WHERE external_bot_id = $1
		  AND (last_active IS NULL OR last_active < $2)
	`, botID, at.UTC())
	return err
}

func (r *PostgresBotRepo) ListGroups(ctx context.Context, botID string) ([]model.DistributionGroup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT g.id, g.bot_id, g.group_id, COALESCE(g.group_name, ''), g.created_at
		FROM bot_distribution_groups g
		JOIN bots b ON b.id = g.bot_id
		WHERE b.external_bot_id = $1
		ORDER BY g.id ASC
	`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.DistributionGroup{}
	for rows.Next() {
		var g model.DistributionGroup
		if err := rows.Scan(&g.ID, &g.BotID, &g.GroupID, &g.GroupName, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PostgresBotRepo) AddGroup(ctx context.Context, botID, groupID, groupName string) (model.DistributionGroup, error) {
	var g model.DistributionGroup
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO bot_distribution_groups (bot_id, group_id, group_name)
		SELECT b.id, $2, $3
		FROM bots b
		WHERE b.external_bot_id = $1
		RETURNING id, bot_id, group_id, group_name, created_at
	`, botID, groupID, groupName).Scan(&g.ID, &g.BotID, &g.GroupID, &g.GroupName, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, fmt.Errorf("bot %s: %w", botID, ErrNotFound)
	}
	return g, err
}

func (r *PostgresBotRepo) DeleteGroup(ctx context.Context, botID string, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM bot_distribution_groups g
		USING bots b
		WHERE g.bot_id = b.id
		  AND b.external_bot_id = $1
		  AND g.id = $2
	`, botID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
