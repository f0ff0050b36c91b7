package domain

import (
	"context"

	"github.com/google/uuid"
)

// ParentLookup resolves the owning board or workspace of an entity.
// Implementations return ErrNotFound when the parent row does not exist.
type ParentLookup interface {
	ColumnBoard(ctx context.Context, columnID uuid.UUID) (uuid.UUID, error)
	CardBoard(ctx context.Context, cardID uuid.UUID) (uuid.UUID, error)
	BoardWorkspace(ctx context.Context, boardID uuid.UUID) (uuid.UUID, error)
}

// AccessPolicy answers whether a user may currently observe a board.
type AccessPolicy interface {
	CanViewBoard(ctx context.Context, userID, boardID uuid.UUID) (bool, error)
}

// AccessInvalidator is implemented by policies that cache their answers.
type AccessInvalidator interface {
	Invalidate(userID, boardID uuid.UUID)
	InvalidateUser(userID uuid.UUID)
}
