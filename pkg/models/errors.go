package models

import "errors"

// ErrTurnInProgress is returned by Session.StartTurn when the previous
// turn has not been completed yet (§4.B invariant: "callers must
// complete the current turn before starting another; concurrent turns
// on the same session are rejected").
var ErrTurnInProgress = errors.New("models: a turn is already in progress on this session")
