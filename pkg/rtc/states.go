package rtc

import "github.com/looplab/fsm"

// Состояния realtime-сессии.
// idle → offering → awaiting_ice → signaling → negotiating → connected →
// {disconnected | failed | closed}
const (
	StateIdle         = "idle"
	StateOffering     = "offering"
	StateAwaitingICE  = "awaiting_ice"
	StateSignaling    = "signaling"
	StateNegotiating  = "negotiating"
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateFailed       = "failed"
	StateClosed       = "closed"
)

// События: offer, gather, signal, negotiate, establish, disconnect, fail, close.
// Переходы в disconnected/failed/closed управляются только событиями состояния
// соединения; таймаута на connected-фазу нет — зависший медиапоток этой
// сессией не детектируется.
func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: "offer", Src: []string{StateIdle}, Dst: StateOffering},
			{Name: "gather", Src: []string{StateOffering}, Dst: StateAwaitingICE},
			{Name: "signal", Src: []string{StateAwaitingICE}, Dst: StateSignaling},
			{Name: "negotiate", Src: []string{StateSignaling}, Dst: StateNegotiating},
			// ICE может восстановиться после кратковременного disconnected
			{Name: "establish", Src: []string{StateNegotiating, StateDisconnected}, Dst: StateConnected},
			{Name: "disconnect", Src: []string{StateConnected}, Dst: StateDisconnected},
			{Name: "fail", Src: []string{StateOffering, StateAwaitingICE, StateSignaling, StateNegotiating, StateConnected, StateDisconnected}, Dst: StateFailed},
			{Name: "close", Src: []string{StateOffering, StateAwaitingICE, StateSignaling, StateNegotiating, StateConnected, StateDisconnected, StateFailed}, Dst: StateClosed},
		}, nil,
	)
}
