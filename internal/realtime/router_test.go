package realtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, kind EventKind, after, before Record, hint uuid.UUID) ChangeEvent {
	t.Helper()
	ev, err := NewChangeEvent(kind, after, before, hint)
	require.NoError(t, err)
	return ev
}

func hasWorkspaceChannel(channels []string) bool {
	for _, ch := range channels {
		if strings.HasPrefix(ch, "workspace:") {
			return true
		}
	}
	return false
}

func TestRouter_DirectBoardEntities(t *testing.T) {
	t.Parallel()

	boardID := uuid.New()
	router := NewRouter(newFakeLookup())

	tests := []struct {
		name string
		rec  Record
		want []string
	}{
		{
			name: "column",
			rec:  ColumnRecord{ID: uuid.New(), BoardID: boardID},
			want: []string{BoardChannel(boardID), BoardColumnsChannel(boardID)},
		},
		{
			name: "label",
			rec:  LabelRecord{ID: uuid.New(), BoardID: boardID},
			want: []string{BoardChannel(boardID)},
		},
		{
			name: "board without workspace",
			rec:  BoardRecord{ID: boardID},
			want: []string{BoardChannel(boardID)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := router.Resolve(context.Background(), mustEvent(t, EventCreated, tc.rec, nil, uuid.Nil))
			assert.Equal(t, tc.want, got)
			assert.Contains(t, got, BoardChannel(boardID))
			assert.False(t, hasWorkspaceChannel(got), "direct board entities must not fan out to workspaces")
		})
	}
}

func TestRouter_BoardWithWorkspace(t *testing.T) {
	t.Parallel()

	boardID := uuid.New()
	workspaceID := uuid.New()
	router := NewRouter(newFakeLookup())

	ev := mustEvent(t, EventUpdated, BoardRecord{ID: boardID, WorkspaceID: &workspaceID, Title: "renamed"}, nil, uuid.Nil)

	got := router.Resolve(context.Background(), ev)
	assert.Equal(t, []string{BoardChannel(boardID), WorkspaceChannel(workspaceID)}, got)
}

func TestRouter_BoardMovedBetweenWorkspaces(t *testing.T) {
	t.Parallel()

	boardID := uuid.New()
	from := uuid.New()
	to := uuid.New()
	router := NewRouter(newFakeLookup())

	ev := mustEvent(t, EventUpdated,
		BoardRecord{ID: boardID, WorkspaceID: &to},
		BoardRecord{ID: boardID, WorkspaceID: &from},
		uuid.Nil)

	got := router.Resolve(context.Background(), ev)
	assert.Equal(t, []string{BoardChannel(boardID), WorkspaceChannel(to), WorkspaceChannel(from)}, got)
}

func TestRouter_CardOneHop(t *testing.T) {
	t.Parallel()

	t.Run("resolves column to board", func(t *testing.T) {
		t.Parallel()

		boardID := uuid.New()
		columnID := uuid.New()
		lookup := newFakeLookup()
		lookup.columns[columnID] = boardID
		router := NewRouter(lookup)

		card := CardRecord{ID: uuid.New(), ColumnID: columnID}
		got := router.Resolve(context.Background(), mustEvent(t, EventUpdated, card, card, uuid.Nil))

		assert.Equal(t, []string{BoardChannel(boardID), BoardCardsChannel(boardID)}, got)
		assert.Equal(t, int32(1), lookup.calls.Load(), "same column must be looked up once")
	})

	t.Run("orphan is dropped", func(t *testing.T) {
		t.Parallel()

		router := NewRouter(newFakeLookup())
		card := CardRecord{ID: uuid.New(), ColumnID: uuid.New()}

		got := router.Resolve(context.Background(), mustEvent(t, EventCreated, card, nil, uuid.Nil))
		assert.Empty(t, got)
		assert.NotContains(t, got, GlobalChannel)
	})

	t.Run("lookup error is dropped", func(t *testing.T) {
		t.Parallel()

		lookup := newFakeLookup()
		lookup.err = errors.New("db: connection reset")
		router := NewRouter(lookup)
		card := CardRecord{ID: uuid.New(), ColumnID: uuid.New()}

		got := router.Resolve(context.Background(), mustEvent(t, EventCreated, card, nil, uuid.Nil))
		assert.Empty(t, got)
	})

	t.Run("board hint skips lookup", func(t *testing.T) {
		t.Parallel()

		boardID := uuid.New()
		lookup := newFakeLookup()
		router := NewRouter(lookup)
		card := CardRecord{ID: uuid.New(), ColumnID: uuid.New()}

		got := router.Resolve(context.Background(), mustEvent(t, EventDeleted, nil, card, boardID))
		assert.Equal(t, []string{BoardChannel(boardID), BoardCardsChannel(boardID)}, got)
		assert.Zero(t, lookup.calls.Load())
	})

	t.Run("card moved across boards reaches both", func(t *testing.T) {
		t.Parallel()

		fromBoard := uuid.New()
		toBoard := uuid.New()
		fromColumn := uuid.New()
		toColumn := uuid.New()
		lookup := newFakeLookup()
		lookup.columns[fromColumn] = fromBoard
		lookup.columns[toColumn] = toBoard
		router := NewRouter(lookup)

		cardID := uuid.New()
		ev := mustEvent(t, EventUpdated,
			CardRecord{ID: cardID, ColumnID: toColumn},
			CardRecord{ID: cardID, ColumnID: fromColumn},
			uuid.Nil)

		got := router.Resolve(context.Background(), ev)
		assert.Equal(t, []string{
			BoardChannel(toBoard), BoardCardsChannel(toBoard),
			BoardChannel(fromBoard), BoardCardsChannel(fromBoard),
		}, got)
	})
}

func TestRouter_Comment(t *testing.T) {
	t.Parallel()

	boardID := uuid.New()
	cardID := uuid.New()
	lookup := newFakeLookup()
	lookup.cards[cardID] = boardID
	router := NewRouter(lookup)

	got := router.Resolve(context.Background(),
		mustEvent(t, EventCreated, CommentRecord{ID: uuid.New(), CardID: cardID}, nil, uuid.Nil))
	assert.Equal(t, []string{BoardChannel(boardID)}, got)
}

func TestRouter_BoardMembership(t *testing.T) {
	t.Parallel()

	t.Run("board, members, workspace then user", func(t *testing.T) {
		t.Parallel()

		boardID := uuid.New()
		workspaceID := uuid.New()
		userID := uuid.New()
		lookup := newFakeLookup()
		lookup.workspaces[boardID] = workspaceID
		router := NewRouter(lookup)

		member := BoardMemberRecord{ID: uuid.New(), BoardID: boardID, UserID: userID}
		got := router.Resolve(context.Background(), mustEvent(t, EventCreated, member, nil, uuid.Nil))

		assert.Equal(t, []string{
			BoardChannel(boardID),
			BoardMembersChannel(boardID),
			WorkspaceChannel(workspaceID),
			UserChannel(userID),
		}, got)
	})

	t.Run("workspace miss drops only that branch", func(t *testing.T) {
		t.Parallel()

		boardID := uuid.New()
		userID := uuid.New()
		router := NewRouter(newFakeLookup())

		member := BoardMemberRecord{ID: uuid.New(), BoardID: boardID, UserID: userID}
		got := router.Resolve(context.Background(), mustEvent(t, EventDeleted, nil, member, uuid.Nil))

		assert.Equal(t, []string{
			BoardChannel(boardID),
			BoardMembersChannel(boardID),
			UserChannel(userID),
		}, got)
	})
}

func TestRouter_Workspace(t *testing.T) {
	t.Parallel()

	workspaceID := uuid.New()
	userID := uuid.New()
	router := NewRouter(newFakeLookup())

	t.Run("workspace row", func(t *testing.T) {
		t.Parallel()

		got := router.Resolve(context.Background(),
			mustEvent(t, EventUpdated, WorkspaceRecord{ID: workspaceID}, nil, uuid.Nil))
		assert.Equal(t, []string{WorkspaceChannel(workspaceID)}, got)
	})

	t.Run("workspace membership", func(t *testing.T) {
		t.Parallel()

		member := WorkspaceMemberRecord{ID: uuid.New(), WorkspaceID: workspaceID, UserID: userID}
		got := router.Resolve(context.Background(), mustEvent(t, EventCreated, member, nil, uuid.Nil))
		assert.Equal(t, []string{
			WorkspaceChannel(workspaceID),
			UserChannel(userID),
			UserWorkspaceMembershipChannel(userID),
			GlobalChannel,
		}, got)
	})
}

func TestRouter_UnrecognisedGoesGlobal(t *testing.T) {
	t.Parallel()

	router := NewRouter(newFakeLookup())

	tests := []struct {
		name string
		rec  Record
	}{
		{name: "app setting", rec: AppSettingRecord{Key: "registration_open", Value: true}},
		{name: "unknown table", rec: UnknownRecord{Table: "stickers"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := router.Resolve(context.Background(), mustEvent(t, EventUpdated, tc.rec, nil, uuid.Nil))
			assert.Equal(t, []string{GlobalChannel}, got)
		})
	}
}

func TestRouter_Deterministic(t *testing.T) {
	t.Parallel()

	boardID := uuid.New()
	workspaceID := uuid.New()
	lookup := newFakeLookup()
	lookup.workspaces[boardID] = workspaceID
	router := NewRouter(lookup)

	ev := mustEvent(t, EventUpdated, BoardMemberRecord{ID: uuid.New(), BoardID: boardID, UserID: uuid.New()}, nil, uuid.Nil)

	first := router.Resolve(context.Background(), ev)
	for range 10 {
		assert.Equal(t, first, router.Resolve(context.Background(), ev))
	}
}
