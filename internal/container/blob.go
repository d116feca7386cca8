package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// GeoPackage binary geometry header, see OGC 12-128r18 section 2.1.3.
//
//	magic "GP" | version | flags | srs_id int32 | envelope | WKB
const (
	headerSize     = 8
	flagLittleEnd  = 0x01
	flagEnvelopeXY = 0x02 // envelope indicator 1 in bits 1-3
	flagEmpty      = 0x10
)

var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// EncodeGeometry renders g as a little-endian GeoPackage geometry blob with an XY envelope
func EncodeGeometry(g orb.Geometry, srsID int32) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}

	b := g.Bound()
	buf := make([]byte, headerSize+32, headerSize+32+len(body))
	buf[0], buf[1] = 'G', 'P'
	buf[2] = 0
	buf[3] = flagLittleEnd | flagEnvelopeXY
	binary.LittleEndian.PutUint32(buf[4:], uint32(srsID))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(b.Min[0]))
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(b.Max[0]))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(b.Min[1]))
	binary.LittleEndian.PutUint64(buf[32:], math.Float64bits(b.Max[1]))

	return append(buf, body...), nil
}

// DecodeGeometry parses a GeoPackage geometry blob
func DecodeGeometry(blob []byte) (orb.Geometry, int32, error) {
	if len(blob) < headerSize || blob[0] != 'G' || blob[1] != 'P' {
		return nil, 0, errors.New("not a geopackage geometry blob")
	}

	flags := blob[3]
	var order binary.ByteOrder = binary.BigEndian
	if flags&flagLittleEnd != 0 {
		order = binary.LittleEndian
	}
	srsID := int32(order.Uint32(blob[4:8]))

	envSize, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, 0, fmt.Errorf("invalid envelope indicator in flags %#x", flags)
	}
	if flags&flagEmpty != 0 {
		return nil, srsID, nil
	}
	if len(blob) < headerSize+envSize {
		return nil, 0, errors.New("truncated geopackage geometry blob")
	}

	g, err := wkb.Unmarshal(blob[headerSize+envSize:])
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode geometry: %w", err)
	}
	return g, srsID, nil
}
