// Package progressive реализует сессию воспроизведения живого потока по
// прогрессивному HTTP (FLV или MPEG-TS) поверх подменяемого плеера.
//
// Плеер — внешняя способность окружения, моделируемая интерфейсами
// PlayerProvider и Player: сессия не декодирует медиа, а управляет жизненным
// циклом плеера и политикой переподключения вокруг него. В комплекте идёт
// встроенный HTTP-плеер (HTTPProvider), разбирающий только заголовки
// контейнера — FLV-теги либо TS-пакеты — ради счётчиков и медиа-времени.
//
// Политика переподключения: ошибки сетевого класса запускают полный
// stop+replay после фиксированной паузы, не более MaxReconnects попыток
// подряд; счётчик попыток обнуляется первым переходом в "playing" после
// (пере)запуска — так переходные ошибки старта отличаются от действительно
// невосстановимого потока. Прочие классы ошибок только сообщаются.
package progressive
