package stream

import "time"

// EstimateLatency оценивает сквозную задержку воспроизведения.
//
// Эвристика: с момента первой медиа-единицы прошло (now - firstAt) стенного
// времени, а медиа-время продвинулось на (position - firstPos). Разница —
// накопленное отставание воспроизведения от реального времени.
//
// Оценка приближённая, а не авторитетная: она предполагает, что медиа-время
// напрямую отражает момент захвата на источнике. Начальная задержка до первой
// единицы (установка соединения, буферизация) в оценку не входит.
func EstimateLatency(now, firstAt time.Time, firstPos, position time.Duration) float64 {
	if firstAt.IsZero() || position < firstPos {
		return 0
	}
	wall := now.Sub(firstAt)
	media := position - firstPos
	lag := wall - media
	if lag < 0 {
		return 0
	}
	return lag.Seconds()
}

// Throughput переводит прирост байтов за интервал в биты в секунду.
func Throughput(deltaBytes uint64, interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return float64(deltaBytes) * 8 / interval.Seconds()
}
