package tuya

// This file implements the session finite state machine (Component
// Design §4.5) as a pure function over a transition table, following the
// same shape as a textbook protocol FSM: no side effects, no Session
// dependency, trivially testable in isolation.

// SessionState is one state of the connection lifecycle.
type SessionState uint8

const (
	StateIdle SessionState = iota
	StateConnecting
	StateAwaitingDeviceInfo
	StateAwaitingPair
	StatePaired
	StateOperational
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateAwaitingDeviceInfo:
		return "AwaitingDeviceInfo"
	case StateAwaitingPair:
		return "AwaitingPair"
	case StatePaired:
		return "Paired"
	case StateOperational:
		return "Operational"
	default:
		return "Unknown"
	}
}

// FSMEvent drives a session state transition.
type FSMEvent uint8

const (
	// EventConnect is the local connect() call.
	EventConnect FSMEvent = iota

	// EventSubscribed fires once the notify characteristic subscription
	// succeeds.
	EventSubscribed

	// EventDeviceInfoReply fires on a valid (>=46 byte) device-info reply.
	EventDeviceInfoReply

	// EventPairReply fires on a pair reply with result 0 or 2.
	EventPairReply

	// EventOperational is raised immediately after entering Paired; the
	// Paired->Operational edge is implicit, per §4.5.
	EventOperational

	// EventDisconnect fires on transport disconnect or disconnect().
	EventDisconnect
)

// FSMAction is a side-effect the caller must execute after a transition.
type FSMAction uint8

const (
	ActionSendDeviceInfo FSMAction = iota + 1
	ActionSendPair
	ActionFireConnected
	ActionResetSession
	ActionFireDisconnected
)

type fsmStateEvent struct {
	state SessionState
	event FSMEvent
}

type fsmTransition struct {
	newState SessionState
	actions  []FSMAction
}

// FSMResult is the outcome of applying one event.
type FSMResult struct {
	OldState SessionState
	NewState SessionState
	Actions  []FSMAction
	Changed  bool
}

// sessionFSMTable enumerates every valid (state, event) transition.
// Unlisted pairs are silently ignored — the event is dropped and the
// state is unchanged, matching a reentrant connect() call while already
// paired (§4.5, "Reentrancy").
var sessionFSMTable = map[fsmStateEvent]fsmTransition{
	{StateIdle, EventConnect}: {
		newState: StateConnecting,
	},
	{StateConnecting, EventSubscribed}: {
		newState: StateAwaitingDeviceInfo,
		actions:  []FSMAction{ActionSendDeviceInfo},
	},
	{StateAwaitingDeviceInfo, EventDeviceInfoReply}: {
		newState: StateAwaitingPair,
		actions:  []FSMAction{ActionSendPair},
	},
	{StateAwaitingPair, EventPairReply}: {
		newState: StatePaired,
	},
	{StatePaired, EventOperational}: {
		newState: StateOperational,
		actions:  []FSMAction{ActionFireConnected},
	},
}

// disconnectableStates lists every state from which EventDisconnect is
// accepted — in effect all of them ("Any -> Idle on transport disconnect
// or disconnect()").
var disconnectableStates = []SessionState{
	StateIdle, StateConnecting, StateAwaitingDeviceInfo,
	StateAwaitingPair, StatePaired, StateOperational,
}

func init() {
	for _, s := range disconnectableStates {
		sessionFSMTable[fsmStateEvent{s, EventDisconnect}] = fsmTransition{
			newState: StateIdle,
			actions:  []FSMAction{ActionResetSession, ActionFireDisconnected},
		}
	}
}

// ApplyFSMEvent is a pure function: given the current state and an
// event, it returns the resulting state and the actions the caller must
// execute. It has no knowledge of Session, Transport, or I/O.
func ApplyFSMEvent(current SessionState, event FSMEvent) FSMResult {
	tr, ok := sessionFSMTable[fsmStateEvent{current, event}]
	if !ok {
		return FSMResult{OldState: current, NewState: current}
	}
	return FSMResult{
		OldState: current,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  current != tr.newState,
	}
}
