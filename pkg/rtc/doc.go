// Package rtc реализует realtime-сессию воспроизведения живого потока по
// WebRTC с сигналингом "SDP-оффер POST-ом" (в стиле WHEP).
//
// Последовательность рукопожатия:
//
//  1. создаётся peer connection с двумя recvonly-трансиверами (аудио, видео);
//  2. формируется и фиксируется локальный SDP-оффер;
//  3. ожидается завершение сбора ICE-кандидатов, не дольше GatherTimeout —
//     по истечении срока рукопожатие продолжается с собранными кандидатами;
//  4. полный локальный SDP отправляется как сырой текст POST-ом на URL;
//  5. из JSON-ответа извлекается answer-SDP (см. совместимость форматов в
//     AnswerSDP) и применяется как remote description.
//
// Переход в "connected" управляется асинхронным событием состояния ICE, а не
// завершением HTTP-обмена: успешный обмен SDP ещё не гарантирует поток медиа.
// Автоматического повтора при сбое нет; все пути сбоя проходят через Stop.
package rtc
