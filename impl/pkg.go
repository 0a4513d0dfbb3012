package impl

import "errors"

var errNoUpstream = errors.New("no upstream is configured and the request URI is not absolute")
