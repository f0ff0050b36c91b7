package realtime

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/domain"
)

type scope int

const (
	scopeBoard scope = iota
	scopeWorkspace
	scopeUser
	scopeGlobal
	scopeCount
)

// targets accumulates channels per audience scope so the final list is
// always board-scoped, then workspace, then user, then global.
type targets struct {
	buckets [scopeCount][]string
	seen    map[string]struct{}
}

func (t *targets) add(s scope, channel string) {
	if t.seen == nil {
		t.seen = make(map[string]struct{})
	}
	if _, dup := t.seen[channel]; dup {
		return
	}
	t.seen[channel] = struct{}{}
	t.buckets[s] = append(t.buckets[s], channel)
}

func (t *targets) list() []string {
	var out []string
	for _, b := range t.buckets {
		out = append(out, b...)
	}
	return out
}

// Router maps a Change Event to the ordered channels that must receive it.
type Router struct {
	lookup domain.ParentLookup
}

// NewRouter creates a Router that resolves indirect ownership through lookup.
func NewRouter(lookup domain.ParentLookup) *Router {
	return &Router{lookup: lookup}
}

// Resolve returns the channels for ev. A failed parent lookup drops only the
// routing branch that needed it; Resolve never fails.
func (r *Router) Resolve(ctx context.Context, ev ChangeEvent) []string {
	var (
		t       targets
		columns = make(map[uuid.UUID]uuid.UUID)
		cards   = make(map[uuid.UUID]uuid.UUID)
	)

	for i, rec := range ev.snapshots() {
		primary := i == 0

		switch v := rec.(type) {
		case BoardRecord:
			t.add(scopeBoard, BoardChannel(v.ID))
			if v.WorkspaceID != nil {
				t.add(scopeWorkspace, WorkspaceChannel(*v.WorkspaceID))
			}

		case ColumnRecord:
			t.add(scopeBoard, BoardChannel(v.BoardID))
			t.add(scopeBoard, BoardColumnsChannel(v.BoardID))

		case LabelRecord:
			t.add(scopeBoard, BoardChannel(v.BoardID))

		case CardRecord:
			if primary && ev.BoardHint != uuid.Nil {
				columns[v.ColumnID] = ev.BoardHint
			}
			boardID, ok := r.memoLookup(ctx, columns, v.ColumnID, ev, r.lookup.ColumnBoard)
			if !ok {
				continue
			}
			t.add(scopeBoard, BoardChannel(boardID))
			t.add(scopeBoard, BoardCardsChannel(boardID))

		case CommentRecord:
			if primary && ev.BoardHint != uuid.Nil {
				cards[v.CardID] = ev.BoardHint
			}
			boardID, ok := r.memoLookup(ctx, cards, v.CardID, ev, r.lookup.CardBoard)
			if !ok {
				continue
			}
			t.add(scopeBoard, BoardChannel(boardID))

		case BoardMemberRecord:
			t.add(scopeBoard, BoardChannel(v.BoardID))
			t.add(scopeBoard, BoardMembersChannel(v.BoardID))
			if workspaceID, ok := r.parent(ctx, ev, v.BoardID, r.lookup.BoardWorkspace); ok {
				t.add(scopeWorkspace, WorkspaceChannel(workspaceID))
			}
			t.add(scopeUser, UserChannel(v.UserID))

		case WorkspaceRecord:
			t.add(scopeWorkspace, WorkspaceChannel(v.ID))

		case WorkspaceMemberRecord:
			t.add(scopeWorkspace, WorkspaceChannel(v.WorkspaceID))
			t.add(scopeUser, UserChannel(v.UserID))
			t.add(scopeUser, UserWorkspaceMembershipChannel(v.UserID))
			t.add(scopeGlobal, GlobalChannel)

		default:
			t.add(scopeGlobal, GlobalChannel)
		}
	}

	return t.list()
}

func (r *Router) memoLookup(
	ctx context.Context,
	memo map[uuid.UUID]uuid.UUID,
	childID uuid.UUID,
	ev ChangeEvent,
	fn func(context.Context, uuid.UUID) (uuid.UUID, error),
) (uuid.UUID, bool) {
	if boardID, ok := memo[childID]; ok {
		return boardID, true
	}
	boardID, ok := r.parent(ctx, ev, childID, fn)
	if ok {
		memo[childID] = boardID
	}
	return boardID, ok
}

func (r *Router) parent(
	ctx context.Context,
	ev ChangeEvent,
	childID uuid.UUID,
	fn func(context.Context, uuid.UUID) (uuid.UUID, error),
) (uuid.UUID, bool) {
	parentID, err := fn(ctx, childID)
	if err == nil && parentID != uuid.Nil {
		return parentID, true
	}

	logger := log.With().
		Str("entity", string(ev.Entity)).
		Str("kind", string(ev.Kind)).
		Str("child_id", childID.String()).
		Logger()
	switch {
	case err == nil, errors.Is(err, domain.ErrNotFound):
		logger.Debug().Msg("realtime: parent not found, dropping branch")
	default:
		logger.Warn().Err(err).Msg("realtime: parent lookup failed, dropping branch")
	}
	return uuid.Nil, false
}
