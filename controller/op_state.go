package controller

import "sync/atomic"

// OpState is the lifecycle state of an Engine.
type OpState uint32

const (
	StoppedState OpState = iota
	StartingState
	RunningState
	StoppingState
)

func (s OpState) String() string {
	switch s {
	case StoppedState:
		return "stopped"
	case StartingState:
		return "starting"
	case RunningState:
		return "running"
	case StoppingState:
		return "stopping"
	default:
		return "unknown"
	}
}

type atomicOpState struct {
	state atomic.Uint32
}

func (st *atomicOpState) Get() OpState {
	return OpState(st.state.Load())
}

func (st *atomicOpState) Set(state OpState) {
	st.state.Store(uint32(state))
}

func (st *atomicOpState) IsRunning() bool {
	return st.Get() == RunningState
}

func (st *atomicOpState) ToStarting() bool {
	return st.state.CompareAndSwap(uint32(StoppedState), uint32(StartingState))
}

func (st *atomicOpState) ToRunning() bool {
	return st.state.CompareAndSwap(uint32(StartingState), uint32(RunningState))
}

func (st *atomicOpState) ToStopping() bool {
	if st.state.CompareAndSwap(uint32(RunningState), uint32(StoppingState)) {
		return true
	}
	return st.state.CompareAndSwap(uint32(StartingState), uint32(StoppingState))
}
