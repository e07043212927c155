package audiohook

import (
	"context"

	"github.com/looplab/fsm"
)

// Lifecycle events. Every event moves strictly forward, so no state is revisited.
const (
	eventOpen      = "open"
	eventClose     = "close"
	eventFinalized = "finalized"
	eventAbort     = "abort"
)

// lifecycle wraps looplab/fsm with the session state graph:
//
//	connecting -> open -> closing -> closed
//	any non-terminal state -> aborted
type lifecycle struct {
	fsm *fsm.FSM
}

func newLifecycle(onEnter func(from, to State)) *lifecycle {
	l := &lifecycle{}
	l.fsm = fsm.NewFSM(
		string(StateConnecting),
		fsm.Events{
			{Name: eventOpen, Src: []string{string(StateConnecting)}, Dst: string(StateOpen)},
			{Name: eventClose, Src: []string{string(StateOpen)}, Dst: string(StateClosing)},
			{Name: eventFinalized, Src: []string{string(StateClosing)}, Dst: string(StateClosed)},
			{Name: eventAbort, Src: []string{string(StateConnecting), string(StateOpen), string(StateClosing)}, Dst: string(StateAborted)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onEnter != nil {
					onEnter(State(e.Src), State(e.Dst))
				}
			},
		},
	)
	return l
}

func (l *lifecycle) fire(event string) error {
	return l.fsm.Event(context.Background(), event)
}

func (l *lifecycle) current() State {
	return State(l.fsm.Current())
}

func (l *lifecycle) can(event string) bool {
	return l.fsm.Can(event)
}
