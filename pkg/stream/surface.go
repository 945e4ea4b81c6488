package stream

import (
	"sync"
	"time"
)

// MemorySurface потокобезопасная поверхность отображения, накапливающая
// счётчики принятых медиа-единиц. Используется харнессом сравнения и тестами;
// встраивающее приложение может подставить собственную реализацию Surface,
// пишущую в реальный рендерер.
type MemorySurface struct {
	mu sync.Mutex

	samples  uint64
	bytes    uint64
	position time.Duration
	firstAt  time.Time
	firstPos time.Duration
}

// NewMemorySurface создает пустую поверхность.
func NewMemorySurface() *MemorySurface {
	return &MemorySurface{}
}

// WriteSample принимает медиа-единицу и обновляет счётчики.
func (s *MemorySurface) WriteSample(sample MediaSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.samples == 0 {
		s.firstAt = time.Now()
		s.firstPos = sample.Timestamp
	}
	s.samples++
	s.bytes += uint64(len(sample.Payload))
	if sample.Timestamp > s.position {
		s.position = sample.Timestamp
	}
	return nil
}

// Position возвращает медиа-время последней принятой единицы.
func (s *MemorySurface) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Reset сбрасывает поверхность.
func (s *MemorySurface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = 0
	s.bytes = 0
	s.position = 0
	s.firstAt = time.Time{}
	s.firstPos = 0
}

// Samples возвращает число принятых медиа-единиц.
func (s *MemorySurface) Samples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Bytes возвращает суммарный объём принятой полезной нагрузки.
func (s *MemorySurface) Bytes() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// FirstSample возвращает момент и медиа-время первой принятой единицы.
// Нулевые значения — данные ещё не поступали.
func (s *MemorySurface) FirstSample() (time.Time, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstAt, s.firstPos
}
