package chooser

import "errors"

// ErrConfiguration signals malformed or contradictory selector
// configuration, or a bootstrap stream the admin interface could not
// resolve. Surfaced at composition time; fatal.
var ErrConfiguration = errors.New("chooser: configuration error")

// ErrProtocol signals an Update for an SSP that was never registered.
var ErrProtocol = errors.New("chooser: protocol error")
