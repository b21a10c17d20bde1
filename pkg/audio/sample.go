// ABOUTME: Sample codec helpers for packed little-endian PCM
// ABOUTME: Normalized read/write with saturation, volume scaling and silence
package audio

import (
	"encoding/binary"
	"math"
)

// ReadSample decodes one sample at the start of b as a value in [-1, 1]
func ReadSample(kind SampleKind, b []byte) float64 {
	switch kind {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Uint8:
		return (float64(b[0]) - 128) / 128
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
	return 0
}

// WriteSample encodes v at the start of b, saturating to the kind's range.
// Float samples clamp to [-1, 1].
func WriteSample(kind SampleKind, b []byte, v float64) {
	switch kind {
	case Float32:
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Uint8:
		s := math.Round(v*128) + 128
		if s > 255 {
			s = 255
		} else if s < 0 {
			s = 0
		}
		b[0] = byte(s)
	case Int16:
		s := math.Round(v * 32768)
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(b, uint16(int16(s)))
	case Int32:
		s := math.Round(v * 2147483648)
		if s > math.MaxInt32 {
			s = math.MaxInt32
		} else if s < math.MinInt32 {
			s = math.MinInt32
		}
		binary.LittleEndian.PutUint32(b, uint32(int32(s)))
	}
}

// Scale multiplies every whole sample in data by gain, saturating
func Scale(f Format, data []byte, gain float64) {
	if gain == 1 {
		return
	}
	size := f.BytesPerSample()
	if size == 0 {
		return
	}
	if gain == 0 {
		Silence(f, data)
		return
	}
	for i := 0; i+size <= len(data); i += size {
		WriteSample(f.Kind, data[i:], ReadSample(f.Kind, data[i:])*gain)
	}
}

// Silence fills data with the kind's zero level
func Silence(f Format, data []byte) {
	var fill byte
	if f.Kind == Uint8 {
		fill = 0x80
	}
	for i := range data {
		data[i] = fill
	}
}

// ToInt32 converts packed PCM into the 24-bit int32 sample domain used by encoders.
// It returns the number of samples written.
func ToInt32(f Format, data []byte, dst []int32) int {
	size := f.BytesPerSample()
	if size == 0 {
		return 0
	}
	n := 0
	for i := 0; i+size <= len(data) && n < len(dst); i += size {
		var s int32
		switch f.Kind {
		case Int16:
			s = SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i:])))
		case Int32:
			s = int32(binary.LittleEndian.Uint32(data[i:])) >> 8
		default:
			v := math.Round(ReadSample(f.Kind, data[i:]) * (Max24Bit + 1))
			if v > Max24Bit {
				v = Max24Bit
			} else if v < Min24Bit {
				v = Min24Bit
			}
			s = int32(v)
		}
		dst[n] = s
		n++
	}
	return n
}
