package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/slotswap/internal/model"
)

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

const eventColumns = `id, title, start_time, end_time, owner_id, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	e := &model.Event{}
	if err := row.Scan(&e.ID, &e.Title, &e.StartTime, &e.EndTime, &e.OwnerID, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return e, nil
}

// Create はイベントを作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.Title, event.StartTime, event.EndTime, event.OwnerID, event.Status,
		event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// ListByOwner は所有イベントを開始時刻順に返す。
func (r *PostgresEventRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE owner_id = $1 ORDER BY start_time, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*model.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// ListSwappable は他ユーザーのSWAPPABLEなイベントを所有者情報付きで返す。
func (r *PostgresEventRepo) ListSwappable(ctx context.Context, excludeOwnerID string) ([]model.EventWithOwner, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.title, e.start_time, e.end_time, e.owner_id, e.status, e.created_at, e.updated_at,
		        u.id, u.name, u.email
		 FROM events e
		 JOIN users u ON u.id = e.owner_id
		 WHERE e.status = 'SWAPPABLE' AND e.owner_id <> $1
		 ORDER BY e.start_time, e.id`,
		excludeOwnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list swappable events: %w", err)
	}
	defer rows.Close()

	result := []model.EventWithOwner{}
	for rows.Next() {
		var ew model.EventWithOwner
		e := &ew.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.StartTime, &e.EndTime, &e.OwnerID, &e.Status,
			&e.CreatedAt, &e.UpdatedAt, &ew.Owner.ID, &ew.Owner.Name, &ew.Owner.Email); err != nil {
			return nil, fmt.Errorf("failed to scan swappable event: %w", err)
		}
		result = append(result, ew)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate swappable events: %w", err)
	}
	return result, nil
}

var _ EventRepository = (*PostgresEventRepo)(nil)
