package internal

import "errors"

// ErrSilence signals that an error has already been reported to the user and
// must not be logged again by the top-level command handler.
var ErrSilence = errors.New("silence error")
