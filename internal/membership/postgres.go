package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Postgres is a PostgreSQL-backed membership store.
type Postgres struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	owner_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS room_members (
	room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	role    TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
CREATE TABLE IF NOT EXISTS join_requests (
	room_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	requested_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
`

// NewPostgres opens the database, verifies connectivity, and ensures the
// schema exists.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// CreateRoom inserts the room and its owner membership in one transaction.
func (p *Postgres) CreateRoom(ctx context.Context, name, ownerID string) (string, error) {
	roomID := uuid.NewString()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (id, name, owner_id) VALUES ($1, $2, $3)`,
		roomID, name, ownerID); err != nil {
		return "", fmt.Errorf("insert room: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, $3)`,
		roomID, ownerID, RoleOwner); err != nil {
		return "", fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return roomID, nil
}

// Room returns a room with its members.
func (p *Postgres) Room(ctx context.Context, roomID string) (*RoomWithMembers, error) {
	out := &RoomWithMembers{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id FROM rooms WHERE id = $1`, roomID).
		Scan(&out.ID, &out.Name, &out.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id, role FROM room_members WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out.Members = append(out.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

// Member returns the user's membership in a room.
func (p *Postgres) Member(ctx context.Context, roomID, userID string) (*Member, error) {
	m := &Member{UserID: userID}
	err := p.db.QueryRowContext(ctx,
		`SELECT role FROM room_members WHERE room_id = $1 AND user_id = $2`,
		roomID, userID).Scan(&m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select member: %w", err)
	}
	return m, nil
}

// AssignRole upserts a membership row.
func (p *Postgres) AssignRole(ctx context.Context, roomID, userID, role string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		roomID, userID, role)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// UpsertJoinRequest records a pending request, superseding any prior one.
func (p *Postgres) UpsertJoinRequest(ctx context.Context, req JoinRequest) (*JoinRequest, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO join_requests (room_id, user_id, name, email, requested_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (room_id, user_id) DO UPDATE
		 SET name = EXCLUDED.name, email = EXCLUDED.email, requested_at = EXCLUDED.requested_at`,
		req.RoomID, req.UserID, req.Name, req.Email, req.RequestedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert join request: %w", err)
	}
	out := req
	return &out, nil
}

// PendingJoinRequest returns the pending request for (room, user).
func (p *Postgres) PendingJoinRequest(ctx context.Context, roomID, userID string) (*JoinRequest, error) {
	req := &JoinRequest{RoomID: roomID, UserID: userID}
	err := p.db.QueryRowContext(ctx,
		`SELECT name, email, requested_at FROM join_requests
		 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID).Scan(&req.Name, &req.Email, &req.RequestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select join request: %w", err)
	}
	return req, nil
}

// ClearJoinRequest removes a pending request if present.
func (p *Postgres) ClearJoinRequest(ctx context.Context, roomID, userID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM join_requests WHERE room_id = $1 AND user_id = $2`,
		roomID, userID)
	if err != nil {
		return fmt.Errorf("clear join request: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}
