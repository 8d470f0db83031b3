package mp3

import (
	"encoding/binary"
	"fmt"
)

// MPEG audio version ids as stored in the frame header.
const (
	versionMPEG25   = 0
	versionReserved = 1
	versionMPEG2    = 2
	versionMPEG1    = 3
)

const layerIII = 1

var (
	bitratesV1 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, -1}
	bitratesV2 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, -1}

	sampleRates = map[int][3]int{
		versionMPEG1:  {44100, 48000, 32000},
		versionMPEG2:  {22050, 24000, 16000},
		versionMPEG25: {11025, 12000, 8000},
	}
)

// frameHeader is a decoded 4-byte MPEG audio frame header.
type frameHeader struct {
	version    int
	layer      int
	crc        bool
	bitrate    int // kbit/s
	sampleRate int
	padding    bool
	mono       bool
}

// parseHeader decodes a layer III frame header. Free-format and reserved
// values are rejected.
func parseHeader(b []byte) (frameHeader, error) {
	if len(b) < 4 {
		return frameHeader{}, fmt.Errorf("short header")
	}
	v := binary.BigEndian.Uint32(b)
	if v&0xFFE00000 != 0xFFE00000 {
		return frameHeader{}, fmt.Errorf("no frame sync")
	}

	h := frameHeader{
		version: int(v>>19) & 3,
		layer:   int(v>>17) & 3,
		crc:     (v>>16)&1 == 0,
		padding: (v>>9)&1 == 1,
		mono:    (v>>6)&3 == 3,
	}
	if h.version == versionReserved {
		return frameHeader{}, fmt.Errorf("reserved version")
	}
	if h.layer != layerIII {
		return frameHeader{}, fmt.Errorf("layer %d not supported", 4-h.layer)
	}

	bi := int(v>>12) & 0xF
	if h.version == versionMPEG1 {
		h.bitrate = bitratesV1[bi]
	} else {
		h.bitrate = bitratesV2[bi]
	}
	if h.bitrate <= 0 {
		return frameHeader{}, fmt.Errorf("bitrate index %d not supported", bi)
	}

	si := int(v>>10) & 3
	if si == 3 {
		return frameHeader{}, fmt.Errorf("reserved sample rate")
	}
	h.sampleRate = sampleRates[h.version][si]
	return h, nil
}

// samplesPerFrame returns the number of PCM frames one MPEG frame decodes to.
func (h frameHeader) samplesPerFrame() int {
	if h.version == versionMPEG1 {
		return 1152
	}
	return 576
}

// frameSize returns the frame length in bytes, header included.
func (h frameHeader) frameSize() int {
	coef := 144
	if h.version != versionMPEG1 {
		coef = 72
	}
	n := coef * h.bitrate * 1000 / h.sampleRate
	if h.padding {
		n++
	}
	return n
}

// sideInfoSize returns the size of the layer III side information.
func (h frameHeader) sideInfoSize() int {
	switch {
	case h.version == versionMPEG1 && h.mono:
		return 17
	case h.version == versionMPEG1:
		return 32
	case h.mono:
		return 9
	default:
		return 17
	}
}

func (h frameHeader) channels() int {
	if h.mono {
		return 1
	}
	return 2
}

// compatible reports whether two headers belong to the same stream.
func (h frameHeader) compatible(o frameHeader) bool {
	return h.version == o.version && h.layer == o.layer && h.sampleRate == o.sampleRate
}

// xingFrames returns the frame count of a Xing/Info header in frame, if any.
func xingFrames(h frameHeader, frame []byte) (frames uint32, isXing bool) {
	off := 4 + h.sideInfoSize()
	if h.crc {
		off += 2
	}
	if len(frame) < off+8 {
		return 0, false
	}
	tag := string(frame[off : off+4])
	if tag != "Xing" && tag != "Info" {
		return 0, false
	}
	flags := binary.BigEndian.Uint32(frame[off+4:])
	if flags&1 == 0 || len(frame) < off+12 {
		return 0, true
	}
	return binary.BigEndian.Uint32(frame[off+8:]), true
}
