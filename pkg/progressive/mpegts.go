package progressive

import (
	"bufio"
	"errors"
	"io"
	"time"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// Разбор MPEG-TS на уровне пакетов: ищем начала PES-пакетов и извлекаем PTS.
// Этого достаточно для счётчиков кадров и медиа-времени; ни PAT/PMT, ни
// элементарные потоки не разбираются.

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47
)

var errTSSync = errors.New("потеряна синхронизация MPEG-TS")

type tsReader struct {
	r      *bufio.Reader
	lastTS time.Duration
}

func newTSReader(r io.Reader) *tsReader {
	return &tsReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next возвращает медиа-единицу на каждое начало PES-пакета аудио/видео.
// Пакеты без PUSI и служебные PID-ы пропускаются.
func (t *tsReader) Next() (stream.MediaSample, error) {
	for {
		pkt, err := t.readPacket()
		if err != nil {
			return stream.MediaSample{}, err
		}

		pusi := pkt[1]&0x40 != 0
		if !pusi {
			continue
		}

		payload := tsPayload(pkt)
		// PES-префикс 00 00 01 + stream_id
		if len(payload) < 9 || payload[0] != 0 || payload[1] != 0 || payload[2] != 1 {
			continue
		}
		streamID := payload[3]

		var kind stream.MediaKind
		switch {
		case streamID >= 0xe0 && streamID <= 0xef:
			kind = stream.MediaKindVideo
		case streamID >= 0xc0 && streamID <= 0xdf:
			kind = stream.MediaKindAudio
		default:
			continue
		}

		if ts, ok := pesPTS(payload); ok {
			t.lastTS = ts
		}
		headerLen := 9 + int(payload[8])
		if headerLen > len(payload) {
			headerLen = len(payload)
		}
		return stream.MediaSample{
			Kind:      kind,
			Payload:   payload[headerLen:],
			Timestamp: t.lastTS,
		}, nil
	}
}

// readPacket читает 188-байтовый пакет, при потере синхронизации сдвигается
// побайтово до следующего sync-байта.
func (t *tsReader) readPacket() ([]byte, error) {
	for skipped := 0; ; {
		b, err := t.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != tsSyncByte {
			skipped++
			if skipped > tsPacketSize*2 {
				return nil, errTSSync
			}
			continue
		}
		pkt := make([]byte, tsPacketSize)
		pkt[0] = b
		if _, err := io.ReadFull(t.r, pkt[1:]); err != nil {
			return nil, err
		}
		return pkt, nil
	}
}

// tsPayload возвращает полезную нагрузку пакета с учётом adaptation field.
func tsPayload(pkt []byte) []byte {
	afc := pkt[3] >> 4 & 0x3
	switch afc {
	case 1: // только payload
		return pkt[4:]
	case 3: // adaptation field + payload
		afLen := int(pkt[4])
		if 5+afLen >= len(pkt) {
			return nil
		}
		return pkt[5+afLen:]
	default: // только adaptation field либо зарезервировано
		return nil
	}
}

// pesPTS извлекает PTS (90 кГц, 33 бита) из заголовка PES-пакета.
func pesPTS(pes []byte) (time.Duration, bool) {
	if len(pes) < 14 || pes[7]&0x80 == 0 {
		return 0, false
	}
	p := pes[9:14]
	pts := uint64(p[0]>>1&0x07)<<30 |
		uint64(p[1])<<22 |
		uint64(p[2]>>1)<<15 |
		uint64(p[3])<<7 |
		uint64(p[4]>>1)
	return time.Duration(pts) * time.Second / 90000, true
}
