package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/dice"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/identity"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/session"
)

func TestMap(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{session.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
		{session.ErrSessionFull, http.StatusConflict, "session_full"},
		{session.ErrSessionEnded, http.StatusGone, "session_ended"},
		{session.ErrDuplicatePlayer, http.StatusConflict, "duplicate_player"},
		{session.ErrNotAMember, http.StatusForbidden, "not_a_member"},
		{session.ErrNotHost, http.StatusForbidden, "not_host"},
		{session.ErrInvalidInviteCode, http.StatusForbidden, "invalid_invite_code"},
		{session.ErrInvalidGameState, http.StatusBadRequest, "invalid_game_state"},
		{dice.ErrInvalidNotation, http.StatusBadRequest, "invalid_notation"},
		{dice.ErrCountOutOfRange, http.StatusBadRequest, "dice_count_out_of_range"},
		{identity.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
		// Wrapped errors still map through errors.Is.
		{fmt.Errorf("join: %w", session.ErrSessionFull), http.StatusConflict, "session_full"},
	}
	for _, tc := range cases {
		status, code := Map(tc.err)
		if status != tc.status || code != tc.code {
			t.Errorf("Map(%v) = (%d, %q), want (%d, %q)", tc.err, status, code, tc.status, tc.code)
		}
	}
}
