package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// maxSignalBody ограничивает размер читаемого тела ответа сигналинга.
const maxSignalBody = 1 << 20

// answerEnvelope JSON-ответ сигналинг-сервера.
//
// code != 0 — отказ уровня приложения независимо от HTTP-статуса; msg несёт
// причину ("stream not found" и т.п.).
type answerEnvelope struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	SDP    string `json:"sdp"`
	Answer string `json:"answer"`
	Data   struct {
		SDP string `json:"sdp"`
	} `json:"data"`
}

// AnswerSDP извлекает answer-SDP из ответа.
//
// Прослойка совместимости между версиями серверного API: разные поколения
// сервера кладут answer в sdp, answer либо data.sdp. Порядок перебора
// фиксирован; отсутствие answer во всех трёх местах — ошибка MissingAnswer.
func (e *answerEnvelope) AnswerSDP() (string, bool) {
	for _, sdp := range []string{e.SDP, e.Answer, e.Data.SDP} {
		if sdp != "" {
			return sdp, true
		}
	}
	return "", false
}

// SignalingClient выполняет обмен SDP с сигналинг-сервером: оффер уходит
// сырым текстом в теле POST, ответ приходит JSON-конвертом answerEnvelope.
type SignalingClient struct {
	// HTTPClient используемый HTTP-клиент.
	HTTPClient *http.Client

	// Origin значение заголовка Origin. Пустое — выводится из URL запроса.
	Origin string

	// SessionID для атрибуции ошибок.
	SessionID string
}

// Exchange отправляет оффер и возвращает answer-SDP.
func (c *SignalingClient) Exchange(ctx context.Context, rawURL, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(offerSDP))
	if err != nil {
		return "", stream.WrapError(stream.ErrorCodeSignalingHTTP, c.SessionID, "некорректный URL сигналинга", err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", c.origin(rawURL))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", stream.WrapError(stream.ErrorCodeSignalingHTTP, c.SessionID, "сбой запроса сигналинга", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSignalBody))
	if err != nil {
		return "", stream.WrapError(stream.ErrorCodeSignalingHTTP, c.SessionID, "сбой чтения ответа сигналинга", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := stream.NewError(stream.ErrorCodeSignalingHTTP, c.SessionID,
			fmt.Sprintf("сигналинг вернул HTTP %d", resp.StatusCode))
		e.Context = map[string]interface{}{"status": resp.StatusCode}
		return "", e
	}

	var env answerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", stream.WrapError(stream.ErrorCodeSignalingMalformed, c.SessionID, "некорректный JSON ответа сигналинга", err)
	}
	if env.Code != 0 {
		e := stream.NewError(stream.ErrorCodeSignalingRejected, c.SessionID,
			fmt.Sprintf("сервер отклонил запрос: code=%d msg=%q", env.Code, env.Msg))
		e.Context = map[string]interface{}{"code": env.Code, "msg": env.Msg}
		return "", e
	}
	answer, ok := env.AnswerSDP()
	if !ok {
		return "", stream.NewError(stream.ErrorCodeMissingAnswer, c.SessionID,
			"ответ сигналинга не содержит answer-SDP (sdp/answer/data.sdp)")
	}
	return answer, nil
}

func (c *SignalingClient) origin(rawURL string) string {
	if c.Origin != "" {
		return c.Origin
	}
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return ""
}
