package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/boardsync/internal/domain"
)

// AccessRepo answers board visibility from membership rows.
type AccessRepo struct {
	pool *pgxpool.Pool
}

func NewAccessRepo(pool *pgxpool.Pool) *AccessRepo {
	return &AccessRepo{pool: pool}
}

// CanViewBoard grants board members, owners and admins of the board's
// workspace, and application administrators.
func (r *AccessRepo) CanViewBoard(ctx context.Context, userID, boardID uuid.UUID) (bool, error) {
	var allowed bool

	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM board_members
		     WHERE board_id = $2 AND user_id = $1
		 ) OR EXISTS (
		     SELECT 1 FROM boards b
		     JOIN workspace_members wm ON wm.workspace_id = b.workspace_id
		     WHERE b.id = $2 AND wm.user_id = $1 AND wm.role IN ($3, $4)
		 ) OR EXISTS (
		     SELECT 1 FROM profiles
		     WHERE id = $1 AND is_admin
		 )`,
		userID, boardID, string(domain.WorkspaceRoleOwner), string(domain.WorkspaceRoleAdmin),
	).Scan(&allowed)
	if err != nil {
		return false, fmt.Errorf("accessRepo.CanViewBoard: %w", err)
	}

	return allowed, nil
}
