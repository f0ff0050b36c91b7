package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/boardsync/internal/domain"
)

// ParentRepo resolves the owning row of a board entity.
type ParentRepo struct {
	pool *pgxpool.Pool
}

func NewParentRepo(pool *pgxpool.Pool) *ParentRepo {
	return &ParentRepo{pool: pool}
}

func (r *ParentRepo) ColumnBoard(ctx context.Context, columnID uuid.UUID) (uuid.UUID, error) {
	var boardID uuid.UUID

	err := r.pool.QueryRow(ctx,
		`SELECT board_id FROM columns WHERE id = $1`,
		columnID,
	).Scan(&boardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("parentRepo.ColumnBoard: %w", domain.ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("parentRepo.ColumnBoard: %w", err)
	}

	return boardID, nil
}

func (r *ParentRepo) CardBoard(ctx context.Context, cardID uuid.UUID) (uuid.UUID, error) {
	var boardID uuid.UUID

	err := r.pool.QueryRow(ctx,
		`SELECT col.board_id
		 FROM cards c
		 JOIN columns col ON col.id = c.column_id
		 WHERE c.id = $1`,
		cardID,
	).Scan(&boardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("parentRepo.CardBoard: %w", domain.ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("parentRepo.CardBoard: %w", err)
	}

	return boardID, nil
}

// BoardWorkspace returns ErrNotFound both for unknown boards and for boards
// outside any workspace.
func (r *ParentRepo) BoardWorkspace(ctx context.Context, boardID uuid.UUID) (uuid.UUID, error) {
	var workspaceID *uuid.UUID

	err := r.pool.QueryRow(ctx,
		`SELECT workspace_id FROM boards WHERE id = $1`,
		boardID,
	).Scan(&workspaceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("parentRepo.BoardWorkspace: %w", domain.ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("parentRepo.BoardWorkspace: %w", err)
	}
	if workspaceID == nil {
		return uuid.Nil, fmt.Errorf("parentRepo.BoardWorkspace: no workspace: %w", domain.ErrNotFound)
	}

	return *workspaceID, nil
}
