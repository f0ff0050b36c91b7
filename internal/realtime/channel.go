package realtime

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gosuda/boardsync/internal/domain"
)

const (
	// GlobalChannel carries application-wide settings and administration changes.
	GlobalChannel = "global"
	// SystemChannel is reserved for control acknowledgements and cannot be subscribed.
	SystemChannel = "system"

	maxChannelLen = 200
)

const (
	boardPrefix     = "board:"
	legacyPrefix    = "board-"
	workspacePrefix = "workspace:"
	userPrefix      = "user:"
	userLegacy      = "user-"

	membersSuffix    = "-members"
	cardsSuffix      = "-cards"
	columnsSuffix    = "-columns"
	membershipSuffix = "-workspace-membership"
)

// BoardChannel returns the channel carrying all activity on a board.
func BoardChannel(boardID uuid.UUID) string {
	return boardPrefix + boardID.String()
}

// BoardMembersChannel returns the legacy channel for board membership changes.
func BoardMembersChannel(boardID uuid.UUID) string {
	return legacyPrefix + boardID.String() + membersSuffix
}

// BoardCardsChannel returns the legacy channel for card changes on a board.
func BoardCardsChannel(boardID uuid.UUID) string {
	return legacyPrefix + boardID.String() + cardsSuffix
}

// BoardColumnsChannel returns the legacy channel for column changes on a board.
func BoardColumnsChannel(boardID uuid.UUID) string {
	return legacyPrefix + boardID.String() + columnsSuffix
}

// WorkspaceChannel returns the channel for workspace-level dashboards.
func WorkspaceChannel(workspaceID uuid.UUID) string {
	return workspacePrefix + workspaceID.String()
}

// UserChannel returns the channel addressed to one person.
func UserChannel(userID uuid.UUID) string {
	return userPrefix + userID.String()
}

// UserWorkspaceMembershipChannel is the legacy form of UserChannel used for
// workspace membership changes.
func UserWorkspaceMembershipChannel(userID uuid.UUID) string {
	return userLegacy + userID.String() + membershipSuffix
}

// BoardIDFromChannel extracts the board id from board-scoped channel names.
// Workspace, user and global channels report false.
func BoardIDFromChannel(name string) (uuid.UUID, bool) {
	if rest, ok := strings.CutPrefix(name, boardPrefix); ok {
		return parseID(rest)
	}

	rest, ok := strings.CutPrefix(name, legacyPrefix)
	if !ok {
		return uuid.Nil, false
	}
	for _, suffix := range []string{membersSuffix, cardsSuffix, columnsSuffix} {
		if raw, found := strings.CutSuffix(rest, suffix); found {
			return parseID(raw)
		}
	}
	return uuid.Nil, false
}

// UserIDFromChannel extracts the addressed user from user-scoped channel names.
func UserIDFromChannel(name string) (uuid.UUID, bool) {
	if rest, ok := strings.CutPrefix(name, userPrefix); ok {
		return parseID(rest)
	}
	if rest, ok := strings.CutPrefix(name, userLegacy); ok {
		if raw, found := strings.CutSuffix(rest, membershipSuffix); found {
			return parseID(raw)
		}
	}
	return uuid.Nil, false
}

// ValidateChannel reports whether name is a subscribable channel.
func ValidateChannel(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("channel is empty: %w", domain.ErrInvalidChannel)
	case len(name) > maxChannelLen:
		return fmt.Errorf("channel exceeds %d bytes: %w", maxChannelLen, domain.ErrInvalidChannel)
	case name == SystemChannel:
		return fmt.Errorf("channel %q is reserved: %w", name, domain.ErrInvalidChannel)
	case name == GlobalChannel:
		return nil
	}

	if _, ok := BoardIDFromChannel(name); ok {
		return nil
	}
	if _, ok := UserIDFromChannel(name); ok {
		return nil
	}
	if rest, ok := strings.CutPrefix(name, workspacePrefix); ok {
		if _, ok := parseID(rest); ok {
			return nil
		}
	}

	return fmt.Errorf("channel %q is not recognized: %w", name, domain.ErrInvalidChannel)
}

// parseID accepts only the canonical lowercase hyphenated form so that a
// subscribed name always matches the names the router produces.
func parseID(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil || id.String() != s {
		return uuid.Nil, false
	}
	return id, true
}
