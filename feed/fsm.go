package feed

import "bookflow/models"

// Event is a stimulus applied to the connection state machine.
type Event int

const (
	EventDial Event = iota
	EventOpen
	EventSubscribeSent
	EventClose
	EventFail
	EventDisconnect
)

func (e Event) String() string {
	switch e {
	case EventDial:
		return "dial"
	case EventOpen:
		return "open"
	case EventSubscribeSent:
		return "subscribe_sent"
	case EventClose:
		return "close"
	case EventFail:
		return "fail"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Transition is the pure state transition function of the adapter. The
// native callback style (open/message/close handlers) is folded into this
// table so connection behaviour can be unit tested without a transport.
// Unexpected stimuli leave the state unchanged.
func Transition(s models.FeedState, ev Event) models.FeedState {
	if ev == EventDisconnect {
		return models.StateIdle
	}
	switch s {
	case models.StateIdle:
		if ev == EventDial {
			return models.StateConnecting
		}
	case models.StateConnecting:
		switch ev {
		case EventOpen:
			return models.StateConnected
		case EventFail:
			return models.StateError
		case EventClose:
			return models.StateDisconnected
		}
	case models.StateConnected:
		switch ev {
		case EventSubscribeSent:
			return models.StateSubscribed
		case EventFail:
			return models.StateError
		case EventClose:
			return models.StateDisconnected
		}
	case models.StateSubscribed:
		switch ev {
		case EventFail:
			return models.StateError
		case EventClose:
			return models.StateDisconnected
		}
	case models.StateDisconnected, models.StateError:
		if ev == EventDial {
			return models.StateConnecting
		}
	}
	return s
}
