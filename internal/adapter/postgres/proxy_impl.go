package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// ProxyRepoImpl provides the ProxyRepository implementation using PostgreSQL.
type ProxyRepoImpl struct {
	db *pgxpool.Pool
}

// NewProxyRepo creates a new instance of ProxyRepoImpl.
func NewProxyRepo(db *pgxpool.Pool) *ProxyRepoImpl {
	return &ProxyRepoImpl{db: db}
}

// LoadActive returns the proxies eligible for rotation.
func (r *ProxyRepoImpl) LoadActive(ctx context.Context) ([]*entity.ProxyRecord, error) {
	query := `
		SELECT id, address, port, protocol, username, password,
			is_active, is_working, success_count, fail_count, consecutive_fails,
			avg_response_ms, last_checked, last_used, created_at
		FROM proxies
		WHERE is_active = TRUE
		ORDER BY id;
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load active proxies: %w", err)
	}
	defer rows.Close()
	return scanProxies(rows)
}

// List returns every known proxy regardless of its active flag.
func (r *ProxyRepoImpl) List(ctx context.Context) ([]*entity.ProxyRecord, error) {
	query := `
		SELECT id, address, port, protocol, username, password,
			is_active, is_working, success_count, fail_count, consecutive_fails,
			avg_response_ms, last_checked, last_used, created_at
		FROM proxies
		ORDER BY id;
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list proxies: %w", err)
	}
	defer rows.Close()
	return scanProxies(rows)
}

// Save inserts a proxy and fills in its generated id.
func (r *ProxyRepoImpl) Save(ctx context.Context, p *entity.ProxyRecord) error {
	query := `
		INSERT INTO proxies (
			address, port, protocol, username, password,
			is_active, is_working, success_count, fail_count, consecutive_fails,
			avg_response_ms, last_checked, last_used, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (address, port) DO UPDATE SET
			protocol = EXCLUDED.protocol,
			username = EXCLUDED.username,
			password = EXCLUDED.password,
			is_active = EXCLUDED.is_active
		RETURNING id;
	`
	err := r.db.QueryRow(ctx, query,
		p.Address, p.Port, p.Protocol, p.Username, p.Password,
		p.IsActive, p.IsWorking, p.SuccessCount, p.FailCount, p.ConsecutiveFails,
		p.AvgResponseMS, p.LastChecked, p.LastUsed, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to save proxy %s:%d: %w", p.Address, p.Port, err)
	}
	return nil
}

// Update persists the health counters of an existing proxy.
func (r *ProxyRepoImpl) Update(ctx context.Context, p *entity.ProxyRecord) error {
	query := `
		UPDATE proxies SET
			is_active = $2,
			is_working = $3,
			success_count = $4,
			fail_count = $5,
			consecutive_fails = $6,
			avg_response_ms = $7,
			last_checked = $8,
			last_used = $9
		WHERE id = $1;
	`
	_, err := r.db.Exec(ctx, query,
		p.ID, p.IsActive, p.IsWorking,
		p.SuccessCount, p.FailCount, p.ConsecutiveFails,
		p.AvgResponseMS, p.LastChecked, p.LastUsed,
	)
	if err != nil {
		return fmt.Errorf("failed to update proxy %d: %w", p.ID, err)
	}
	return nil
}

// SetActive flips the operator-controlled active flag.
func (r *ProxyRepoImpl) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := r.db.Exec(ctx, `UPDATE proxies SET is_active = $2 WHERE id = $1;`, id, active)
	if err != nil {
		return fmt.Errorf("failed to set proxy %d active=%t: %w", id, active, err)
	}
	return nil
}

func scanProxies(rows pgx.Rows) ([]*entity.ProxyRecord, error) {
	var proxies []*entity.ProxyRecord
	for rows.Next() {
		var p entity.ProxyRecord
		err := rows.Scan(
			&p.ID, &p.Address, &p.Port, &p.Protocol, &p.Username, &p.Password,
			&p.IsActive, &p.IsWorking, &p.SuccessCount, &p.FailCount, &p.ConsecutiveFails,
			&p.AvgResponseMS, &p.LastChecked, &p.LastUsed, &p.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, &p)
	}
	return proxies, rows.Err()
}
