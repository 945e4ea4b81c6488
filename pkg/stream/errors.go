package stream

import (
	"errors"
	"fmt"
)

// ErrorCode типизированный код ошибки сессии воспроизведения.
// Коды сгруппированы по категориям из таксономии ошибок:
// конфигурация, сигналинг, согласование, окружение, воспроизведение.
type ErrorCode int

const (
	// Ошибки конфигурации — фатальны, возвращаются синхронно
	ErrorCodeSurfaceMissing ErrorCode = iota + 100
	ErrorCodeURLMissing
	ErrorCodeConfigInvalid

	// Ошибки сигналинга — прерывают текущий Play, без повтора
	ErrorCodeSignalingHTTP
	ErrorCodeSignalingRejected
	ErrorCodeSignalingMalformed
	ErrorCodeMissingAnswer

	// Ошибки согласования соединения
	ErrorCodeNegotiationFailed
	ErrorCodeICEFailed

	// Ошибки окружения — фатальны при создании сессии
	ErrorCodeEnvironmentUnsupported

	// Ошибки воспроизведения прогрессивного потока
	ErrorCodePlaybackNetwork
	ErrorCodePlaybackDecode
	ErrorCodePlaybackOther
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeSurfaceMissing:
		return "SurfaceMissing"
	case ErrorCodeURLMissing:
		return "URLMissing"
	case ErrorCodeConfigInvalid:
		return "ConfigInvalid"
	case ErrorCodeSignalingHTTP:
		return "SignalingHTTP"
	case ErrorCodeSignalingRejected:
		return "SignalingRejected"
	case ErrorCodeSignalingMalformed:
		return "SignalingMalformed"
	case ErrorCodeMissingAnswer:
		return "MissingAnswer"
	case ErrorCodeNegotiationFailed:
		return "NegotiationFailed"
	case ErrorCodeICEFailed:
		return "ICEFailed"
	case ErrorCodeEnvironmentUnsupported:
		return "EnvironmentUnsupported"
	case ErrorCodePlaybackNetwork:
		return "PlaybackNetwork"
	case ErrorCodePlaybackDecode:
		return "PlaybackDecode"
	case ErrorCodePlaybackOther:
		return "PlaybackOther"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// StreamError базовая структура ошибок сессий воспроизведения.
// Содержит типизированный код, идентификатор сессии для сопоставления с
// логами, произвольный контекст и обёрнутую ошибку.
type StreamError struct {
	Code      ErrorCode
	Message   string
	SessionID string
	Context   map[string]interface{}
	Wrapped   error
}

// Error реализует интерфейс error.
func (e *StreamError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("[stream:%s] сессия %s: %s", e.Code, e.SessionID, e.Message)
	}
	return fmt.Sprintf("[stream:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обёрнутую ошибку, поддерживая errors.Unwrap.
func (e *StreamError) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, сравнивая ошибки по коду.
func (e *StreamError) Is(target error) bool {
	if t, ok := target.(*StreamError); ok {
		return e.Code == t.Code
	}
	return false
}

// GetContext возвращает значение из контекста ошибки по ключу.
func (e *StreamError) GetContext(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// NewError создает StreamError с указанным кодом.
func NewError(code ErrorCode, sessionID, message string) *StreamError {
	return &StreamError{Code: code, Message: message, SessionID: sessionID}
}

// WrapError создает StreamError, оборачивающую другую ошибку.
func WrapError(code ErrorCode, sessionID, message string, wrapped error) *StreamError {
	return &StreamError{Code: code, Message: message, SessionID: sessionID, Wrapped: wrapped}
}

// CodeOf извлекает код из ошибки. Для ошибок чужих типов возвращает ok=false.
func CodeOf(err error) (ErrorCode, bool) {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsNetworkClass сообщает, относится ли ошибка к сетевому классу ошибок
// воспроизведения. Только этот класс даёт право на автоматическое
// переподключение прогрессивной сессии.
func IsNetworkClass(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrorCodePlaybackNetwork
}
