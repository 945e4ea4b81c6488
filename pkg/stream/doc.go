// Package stream определяет общий контракт сессий воспроизведения живого потока.
//
// Пакет не содержит транспортной логики. Он описывает то, что объединяет оба
// варианта доставки (WebRTC и прогрессивный HTTP):
//
//   - Session — жизненный цикл одной сессии воспроизведения (Play/Stop)
//   - Callbacks — колбэки жизненного цикла, назначаемые встраивающим приложением
//   - Surface — поверхность отображения, принимающая медиа-единицы
//   - StatsSample — снимок статистики, публикуемый раз в секунду
//   - StreamError — типизированные ошибки с кодами по категориям
//
// Инварианты контракта (обязательны для всех реализаций Session):
//
//   - в любой момент у сессии не более одного активного соединения;
//   - Stop идемпотентен: вызов без активного соединения — no-op;
//   - Play при активном соединении сначала выполняет неявный Stop;
//   - асинхронные обработчики проверяют эпоху сессии перед изменением
//     состояния, чтобы поздний колбэк замещённого соединения не повредил
//     текущее (см. Epoch в реализациях).
package stream
