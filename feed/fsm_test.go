package feed

import (
	"testing"

	"bookflow/models"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name  string
		state models.FeedState
		event Event
		want  models.FeedState
	}{
		{"idle dial", models.StateIdle, EventDial, models.StateConnecting},
		{"connecting open", models.StateConnecting, EventOpen, models.StateConnected},
		{"connecting fail", models.StateConnecting, EventFail, models.StateError},
		{"connecting close", models.StateConnecting, EventClose, models.StateDisconnected},
		{"connected subscribe", models.StateConnected, EventSubscribeSent, models.StateSubscribed},
		{"connected fail", models.StateConnected, EventFail, models.StateError},
		{"subscribed fail", models.StateSubscribed, EventFail, models.StateError},
		{"subscribed close", models.StateSubscribed, EventClose, models.StateDisconnected},
		{"error redial", models.StateError, EventDial, models.StateConnecting},
		{"disconnected redial", models.StateDisconnected, EventDial, models.StateConnecting},
		{"disconnect from subscribed", models.StateSubscribed, EventDisconnect, models.StateIdle},
		{"disconnect from error", models.StateError, EventDisconnect, models.StateIdle},
		{"unexpected open in idle", models.StateIdle, EventOpen, models.StateIdle},
		{"unexpected subscribe in connecting", models.StateConnecting, EventSubscribeSent, models.StateConnecting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transition(tt.state, tt.event); got != tt.want {
				t.Errorf("Transition(%v, %v) = %v, want %v", tt.state, tt.event, got, tt.want)
			}
		})
	}
}
