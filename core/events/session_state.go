package events

const (
	KindSessionStarted      Kind = "session_state.started"
	KindSessionStateChanged Kind = "session_state.changed"
	KindSessionStopped      Kind = "session_state.stopped"
)

type SessionStarted struct {
	Base
	SessionID string
	Target    string
	Goal      string
}

func NewSessionStarted(sessionID, target, goal string) SessionStarted {
	return SessionStarted{Base: NewBase(KindSessionStarted), SessionID: sessionID, Target: target, Goal: goal}
}

type SessionStateChanged struct {
	Base
	From string
	To   string
}

func NewSessionStateChanged(from, to string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), From: from, To: to}
}

// SessionStopped carries why the session ended, e.g. "goodbye" or
// "completed".
type SessionStopped struct {
	Base
	Reason string
}

func NewSessionStopped(reason string) SessionStopped {
	return SessionStopped{Base: NewBase(KindSessionStopped), Reason: reason}
}
