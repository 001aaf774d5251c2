package tuya

import "testing"

func TestApplyFSMEventHappyPath(t *testing.T) {
	t.Parallel()

	steps := []struct {
		state   SessionState
		event   FSMEvent
		want    SessionState
		action  FSMAction
		noActon bool
	}{
		{StateIdle, EventConnect, StateConnecting, 0, true},
		{StateConnecting, EventSubscribed, StateAwaitingDeviceInfo, ActionSendDeviceInfo, false},
		{StateAwaitingDeviceInfo, EventDeviceInfoReply, StateAwaitingPair, ActionSendPair, false},
		{StateAwaitingPair, EventPairReply, StatePaired, 0, true},
		{StatePaired, EventOperational, StateOperational, ActionFireConnected, false},
	}

	state := StateIdle
	for _, step := range steps {
		res := ApplyFSMEvent(state, step.event)
		if !res.Changed {
			t.Fatalf("event %d from %s: expected a state change", step.event, step.state)
		}
		if res.NewState != step.want {
			t.Fatalf("event %d from %s: new state = %s, want %s", step.event, step.state, res.NewState, step.want)
		}
		if !step.noActon {
			found := false
			for _, a := range res.Actions {
				if a == step.action {
					found = true
				}
			}
			if !found {
				t.Fatalf("event %d from %s: actions = %v, want to include %d", step.event, step.state, res.Actions, step.action)
			}
		}
		state = res.NewState
	}
}

func TestApplyFSMEventDisconnectFromAnyState(t *testing.T) {
	t.Parallel()

	for _, s := range disconnectableStates {
		res := ApplyFSMEvent(s, EventDisconnect)
		if res.NewState != StateIdle {
			t.Errorf("disconnect from %s: new state = %s, want Idle", s, res.NewState)
		}
		if s != StateIdle && !res.Changed {
			t.Errorf("disconnect from %s: expected Changed = true", s)
		}
	}
}

func TestApplyFSMEventUnknownTransitionIsANoOp(t *testing.T) {
	t.Parallel()

	res := ApplyFSMEvent(StateIdle, EventPairReply)
	if res.Changed {
		t.Fatalf("unlisted transition reported Changed = true, new state %s", res.NewState)
	}
	if res.NewState != StateIdle {
		t.Fatalf("unlisted transition changed state to %s, want Idle unchanged", res.NewState)
	}
}

func TestApplyFSMEventReentrantConnectWhileOperational(t *testing.T) {
	t.Parallel()

	res := ApplyFSMEvent(StateOperational, EventConnect)
	if res.Changed {
		t.Fatalf("reentrant connect from Operational reported a state change to %s", res.NewState)
	}
	if res.NewState != StateOperational {
		t.Fatalf("reentrant connect from Operational changed state to %s", res.NewState)
	}
}

func TestSessionStateString(t *testing.T) {
	t.Parallel()

	cases := map[SessionState]string{
		StateIdle:               "Idle",
		StateConnecting:         "Connecting",
		StateAwaitingDeviceInfo: "AwaitingDeviceInfo",
		StateAwaitingPair:       "AwaitingPair",
		StatePaired:             "Paired",
		StateOperational:        "Operational",
		SessionState(200):       "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("SessionState(%d).String() = %q, want %q", state, got, want)
		}
	}
}
