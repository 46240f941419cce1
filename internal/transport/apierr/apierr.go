// Package apierr maps domain errors onto transport codes shared by the REST
// and websocket surfaces.
package apierr

import (
	"errors"
	"net/http"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/dice"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/eventlog"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/identity"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
)

// Map translates a domain error into an HTTP status and a machine-readable
// code. The code strings double as websocket error codes.
func Map(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrSessionFull):
		return http.StatusConflict, "session_full"
	case errors.Is(err, session.ErrSessionEnded), errors.Is(err, eventlog.ErrClosed):
		return http.StatusGone, "session_ended"
	case errors.Is(err, session.ErrDuplicatePlayer):
		return http.StatusConflict, "duplicate_player"
	case errors.Is(err, session.ErrNotAMember):
		return http.StatusForbidden, "not_a_member"
	case errors.Is(err, session.ErrNotHost):
		return http.StatusForbidden, "not_host"
	case errors.Is(err, session.ErrInvalidInviteCode):
		return http.StatusForbidden, "invalid_invite_code"
	case errors.Is(err, session.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, session.ErrInvalidGameState):
		return http.StatusBadRequest, "invalid_game_state"
	case errors.Is(err, dice.ErrInvalidNotation):
		return http.StatusBadRequest, "invalid_notation"
	case errors.Is(err, dice.ErrCountOutOfRange):
		return http.StatusBadRequest, "dice_count_out_of_range"
	case errors.Is(err, dice.ErrSidesOutOfRange):
		return http.StatusBadRequest, "die_sides_out_of_range"
	case errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
