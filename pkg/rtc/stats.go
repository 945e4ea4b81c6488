package rtc

import (
	"math"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// rtpAccounting накапливает счётчики принятых RTP-пакетов по всем дорожкам
// одного соединения. Читается тикером статистики раз в секунду.
type rtpAccounting struct {
	mu       sync.Mutex
	bytes    uint64
	frames   uint64
	lost     uint32
	jitterMs float64
}

func (a *rtpAccounting) addPacket(size int) {
	a.mu.Lock()
	a.bytes += uint64(size)
	a.mu.Unlock()
}

func (a *rtpAccounting) addFrame() {
	a.mu.Lock()
	a.frames++
	a.mu.Unlock()
}

func (a *rtpAccounting) addLost(n uint32) {
	a.mu.Lock()
	a.lost += n
	a.mu.Unlock()
}

func (a *rtpAccounting) setJitter(ms float64) {
	a.mu.Lock()
	a.jitterMs = ms
	a.mu.Unlock()
}

func (a *rtpAccounting) snapshot() (bytes, frames uint64, lost uint32, jitterMs float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes, a.frames, a.lost, a.jitterMs
}

// trackMeter состояние одной дорожки: потери по разрывам sequence number и
// межпакетный джиттер по RFC 3550 (J += (|D| - J) / 16).
type trackMeter struct {
	acct      *rtpAccounting
	clockRate float64
	video     bool

	started     bool
	lastSeq     uint16
	lastTransit float64
	jitter      float64 // в единицах RTP timestamp
}

func newTrackMeter(acct *rtpAccounting, clockRate uint32, video bool) *trackMeter {
	cr := float64(clockRate)
	if cr <= 0 {
		cr = 90000
	}
	return &trackMeter{acct: acct, clockRate: cr, video: video}
}

// observe учитывает пакет. size — полный размер пакета по сети.
func (m *trackMeter) observe(pkt *rtp.Packet, size int, arrival time.Time) {
	m.acct.addPacket(size)

	// Кадры: у видео конец кадра отмечен marker-битом, у аудио кадр на пакет.
	if !m.video || pkt.Marker {
		m.acct.addFrame()
	}

	if m.started {
		// Потери по разрыву номеров; int16 корректно переживает wrap-around.
		if gap := int16(pkt.SequenceNumber - m.lastSeq); gap > 1 {
			m.acct.addLost(uint32(gap - 1))
		}

		arrivalTS := arrival.Sub(time.Time{}).Seconds() * m.clockRate
		transit := arrivalTS - float64(pkt.Timestamp)
		d := math.Abs(transit - m.lastTransit)
		m.jitter += (d - m.jitter) / 16
		m.lastTransit = transit
		if m.video {
			m.acct.setJitter(m.jitter / m.clockRate * 1000)
		}
	} else {
		m.started = true
		arrivalTS := arrival.Sub(time.Time{}).Seconds() * m.clockRate
		m.lastTransit = arrivalTS - float64(pkt.Timestamp)
	}
	m.lastSeq = pkt.SequenceNumber
}

// mediaTime переводит RTP timestamp пакета в медиа-время дорожки.
func (m *trackMeter) mediaTime(ts uint32) time.Duration {
	return time.Duration(float64(ts) / m.clockRate * float64(time.Second))
}
