package globals

// HealthPath is the liveness endpoint. It is not logged.
const HealthPath = "/health"

// CmdPrefix is the path prefix of the command API. Requests under it are handled
// by the server and never intercepted.
const CmdPrefix = "/cmd"
