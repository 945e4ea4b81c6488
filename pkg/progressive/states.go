package progressive

import "github.com/looplab/fsm"

// Состояния прогрессивной сессии.
// idle → loading → playing → {waiting|stalled} → playing | reconnecting →
// loading | idle (после Stop)
const (
	StateIdle         = "idle"
	StateLoading      = "loading"
	StatePlaying      = "playing"
	StateWaiting      = "waiting"
	StateStalled      = "stalled"
	StateReconnecting = "reconnecting"
)

// События: load, play, wait, stall, reconnect.
// Каждому (пере)запуску соответствует свежая машина: переподключение делает
// полный stop+replay, и новое соединение начинает с idle.
func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "load", Src: []string{StateIdle}, Dst: StateLoading},
			{Name: "play", Src: []string{StateLoading, StateWaiting, StateStalled}, Dst: StatePlaying},
			{Name: "wait", Src: []string{StatePlaying}, Dst: StateWaiting},
			{Name: "stall", Src: []string{StateLoading, StatePlaying, StateWaiting}, Dst: StateStalled},
			{Name: "reconnect", Src: []string{StateLoading, StatePlaying, StateWaiting, StateStalled}, Dst: StateReconnecting},
		}, nil,
	)
}
