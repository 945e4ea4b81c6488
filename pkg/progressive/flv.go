package progressive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/arzzra/streamprobe/pkg/stream"
)

// Разбор контейнера FLV на уровне заголовков тегов. Полезная нагрузка не
// декодируется и передаётся на поверхность как есть.

var errFLVSignature = errors.New("нет сигнатуры FLV")

const (
	flvTagAudio  = 8
	flvTagVideo  = 9
	flvTagScript = 18
)

type flvReader struct {
	r          *bufio.Reader
	headerDone bool
}

func newFLVReader(r io.Reader) *flvReader {
	return &flvReader{r: bufio.NewReaderSize(r, 32*1024)}
}

// Next возвращает очередной медиа-тег. Скрипт-теги (onMetaData) пропускаются.
func (f *flvReader) Next() (stream.MediaSample, error) {
	if !f.headerDone {
		if err := f.readHeader(); err != nil {
			return stream.MediaSample{}, err
		}
		f.headerDone = true
	}

	for {
		// PreviousTagSize перед каждым тегом
		var prev [4]byte
		if _, err := io.ReadFull(f.r, prev[:]); err != nil {
			return stream.MediaSample{}, err
		}

		var hdr [11]byte
		if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
			return stream.MediaSample{}, err
		}
		tagType := hdr[0] & 0x1f
		dataSize := int(hdr[1])<<16 | int(hdr[2])<<8 | int(hdr[3])
		// 24 бита timestamp + старший байт в расширении
		tsMillis := uint32(hdr[7])<<24 | uint32(hdr[4])<<16 | uint32(hdr[5])<<8 | uint32(hdr[6])

		payload := make([]byte, dataSize)
		if _, err := io.ReadFull(f.r, payload); err != nil {
			return stream.MediaSample{}, err
		}

		switch tagType {
		case flvTagAudio:
			return stream.MediaSample{
				Kind:      stream.MediaKindAudio,
				Payload:   payload,
				Timestamp: time.Duration(tsMillis) * time.Millisecond,
			}, nil
		case flvTagVideo:
			keyframe := len(payload) > 0 && payload[0]>>4 == 1
			return stream.MediaSample{
				Kind:      stream.MediaKindVideo,
				Payload:   payload,
				Timestamp: time.Duration(tsMillis) * time.Millisecond,
				Keyframe:  keyframe,
			}, nil
		case flvTagScript:
			continue
		default:
			return stream.MediaSample{}, fmt.Errorf("неизвестный тип FLV-тега %d", tagType)
		}
	}
}

func (f *flvReader) readHeader() error {
	var hdr [9]byte
	if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
		return err
	}
	if hdr[0] != 'F' || hdr[1] != 'L' || hdr[2] != 'V' {
		return errFLVSignature
	}
	// DataOffset может превышать 9 у расширенных заголовков
	if off := binary.BigEndian.Uint32(hdr[5:9]); off > 9 {
		if _, err := io.CopyN(io.Discard, f.r, int64(off-9)); err != nil {
			return err
		}
	}
	return nil
}
