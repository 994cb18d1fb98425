package ws

// Message types pushed to dashboard clients. state_update, event, and
// error are also produced by the event pipeline; the strings must stay
// in sync with what the frontend switches on.
const (
	MsgStateUpdate    = "state_update"
	MsgEvent          = "event"
	MsgError          = "error"
	MsgReload         = "reload"
	MsgSessionDeleted = "session_deleted"
)
