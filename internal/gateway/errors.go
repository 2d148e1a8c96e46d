package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/partywave/wavelength/internal/game"
	"github.com/partywave/wavelength/internal/store"
)

type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func errBadRequest(message string) error {
	return &httpError{status: http.StatusBadRequest, message: message}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeError maps domain errors onto HTTP statuses. Guard rejections
// are conflicts, permission failures are forbidden, everything
// unrecognized is a 500 with the detail kept server-side.
func writeError(w http.ResponseWriter, err error) {
	var he *httpError
	if errors.As(err, &he) {
		writeJSON(w, he.status, map[string]string{"error": he.message})
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, store.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, store.ErrTargetAlreadySet),
		errors.Is(err, store.ErrAlreadyLocked),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicateRound),
		errors.Is(err, game.ErrNotAllLocked),
		errors.Is(err, game.ErrRoundNotRevealed),
		errors.Is(err, game.ErrTargetNotSet):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, game.ErrNotHost),
		errors.Is(err, game.ErrNotPsychic),
		errors.Is(err, game.ErrPsychicCannotGuess):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, game.ErrInvalidPosition),
		errors.Is(err, game.ErrNotEnoughPlayers):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, game.ErrRoomFinished):
		status, message = http.StatusGone, err.Error()
	default:
		log.Error().Err(err).Msg("request failed")
	}

	writeJSON(w, status, map[string]string{"error": message})
}
