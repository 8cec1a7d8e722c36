package engine

import "errors"

// ErrRateLimited is returned when a retroactive run is requested inside the
// rule's cooldown period. The caller retries after the cooldown; the engine
// never queues the request.
var ErrRateLimited = errors.New("retroactive run rate limited")

// ErrRuleDisabled is returned when a disabled rule is asked to run
// retroactively.
var ErrRuleDisabled = errors.New("rule is disabled")
