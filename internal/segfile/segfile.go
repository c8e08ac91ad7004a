// Package segfile loads the local segmentation file format: a
// protobuf-encoded SlideSegmentationData message carrying per-tile cell
// polygon masks and tissue-class rasters, in either of two schema
// generations. Wire fields are decoded manually with
// google.golang.org/protobuf/encoding/protowire rather than generated
// bindings, mirroring the teacher's habit of hand-rolling narrow binary
// readers (internal/data/zarr/reader.go) instead of pulling in a codegen
// step for a single message family.
package segfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Point is one polygon vertex in tile-local pixel coordinates.
type Point struct {
	X, Y float32
}

// Mask is one segmented cell's polygon within a tile.
type Mask struct {
	CellType    int32
	Coordinates []Point
}

// TissueRaster is a decompressed per-pixel class-id raster for one tile.
type TissueRaster struct {
	Width, Height int32
	Data          []byte
}

// Tile is one pyramid tile's segmentation payload.
type Tile struct {
	Level, X, Y, Width, Height int32
	Masks                      []Mask
	TissueMap                  *TissueRaster

	// CellsBlob and TissueBlob carry v2-schema zstd-compressed payloads;
	// decode them with DecodeCellsBlob/DecodeTissueBlob.
	CellsBlob  []byte
	TissueBlob []byte
}

// SlideSegmentationData is one parsed segmentation file.
type SlideSegmentationData struct {
	SlideID            string
	MaxLevel           int32
	Tiles              []Tile
	TissueClassMapping map[int32]string
	CellClassNames     []string // populated only for schema version 2
	SchemaVersion      int
}

// Load parses raw file bytes into a SlideSegmentationData. Two schema
// generations are supported (see schemaV1/schemaV2 field layouts below);
// detection trial-parses both and keeps whichever produced tiles,
// preferring the newer schema on a tie.
func Load(data []byte) (*SlideSegmentationData, error) {
	v2, v2Err := parseTopLevel(data, schemaV2)
	if v2Err == nil {
		v2.SchemaVersion = 2
	}
	if v2Err == nil && len(v2.Tiles) > 0 {
		return v2, nil
	}

	v1, v1Err := parseTopLevel(data, schemaV1)
	if v1Err == nil {
		v1.SchemaVersion = 1
	}
	if v1Err == nil && len(v1.Tiles) > 0 {
		return v1, nil
	}

	if v2Err != nil && v1Err != nil {
		return nil, fmt.Errorf("segfile: neither schema version parsed: v2: %v, v1: %v", v2Err, v1Err)
	}
	return nil, fmt.Errorf("segfile: no tiles found under either schema version")
}

// fieldLayout maps the top-level message's field numbers between the two
// schema generations. Generation 2 renumbered max_level and tiles when it
// added cell_class_names.
type fieldLayout struct {
	fieldTiles          protowire.Number
	fieldMaxLevel       protowire.Number
	fieldCellClassNames protowire.Number // 0 if absent in this generation
}

var (
	schemaV2 = fieldLayout{fieldTiles: 3, fieldMaxLevel: 2, fieldCellClassNames: 5}
	schemaV1 = fieldLayout{fieldTiles: 2, fieldMaxLevel: 3, fieldCellClassNames: 0}
)

const (
	fieldSlideID            protowire.Number = 1
	fieldTissueClassMapping protowire.Number = 4
)

func parseTopLevel(data []byte, layout fieldLayout) (*SlideSegmentationData, error) {
	s := &SlideSegmentationData{TissueClassMapping: make(map[int32]string)}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == fieldSlideID:
			v, n2 := protowire.ConsumeString(data)
			if n2 < 0 {
				return nil, protowire.ParseError(n2)
			}
			s.SlideID = v
			data = data[n2:]

		case num == layout.fieldMaxLevel:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return nil, protowire.ParseError(n2)
			}
			s.MaxLevel = int32(v)
			data = data[n2:]

		case num == layout.fieldTiles:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return nil, protowire.ParseError(n2)
			}
			tile, err := parseTile(raw)
			if err != nil {
				return nil, fmt.Errorf("segfile: tile: %w", err)
			}
			s.Tiles = append(s.Tiles, tile)
			data = data[n2:]

		case num == fieldTissueClassMapping:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return nil, protowire.ParseError(n2)
			}
			key, val, err := parseMapEntry(raw)
			if err != nil {
				return nil, fmt.Errorf("segfile: tissue_class_mapping: %w", err)
			}
			s.TissueClassMapping[key] = val
			data = data[n2:]

		case layout.fieldCellClassNames != 0 && num == layout.fieldCellClassNames:
			v, n2 := protowire.ConsumeString(data)
			if n2 < 0 {
				return nil, protowire.ParseError(n2)
			}
			s.CellClassNames = append(s.CellClassNames, v)
			data = data[n2:]

		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return nil, protowire.ParseError(n2)
			}
			data = data[n2:]
		}
	}
	return s, nil
}

func parseTile(data []byte) (Tile, error) {
	var t Tile
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return t, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case 1, 2, 3, 4, 5:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return t, protowire.ParseError(n2)
			}
			switch num {
			case 1:
				t.Level = int32(v)
			case 2:
				t.X = int32(v)
			case 3:
				t.Y = int32(v)
			case 4:
				t.Width = int32(v)
			case 5:
				t.Height = int32(v)
			}
			data = data[n2:]

		case 6:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return t, protowire.ParseError(n2)
			}
			mask, err := parseMask(raw)
			if err != nil {
				return t, fmt.Errorf("mask: %w", err)
			}
			t.Masks = append(t.Masks, mask)
			data = data[n2:]

		case 7:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return t, protowire.ParseError(n2)
			}
			raster, err := parseTissueRaster(raw)
			if err != nil {
				return t, fmt.Errorf("tissue_segmentation_map: %w", err)
			}
			t.TissueMap = &raster
			data = data[n2:]

		case 8:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return t, protowire.ParseError(n2)
			}
			t.CellsBlob = append([]byte(nil), raw...)
			data = data[n2:]

		case 9:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return t, protowire.ParseError(n2)
			}
			t.TissueBlob = append([]byte(nil), raw...)
			data = data[n2:]

		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return t, protowire.ParseError(n2)
			}
			data = data[n2:]
		}
	}
	return t, nil
}

func parseMask(data []byte) (Mask, error) {
	var m Mask
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case 1:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return m, protowire.ParseError(n2)
			}
			m.CellType = int32(v)
			data = data[n2:]

		case 2:
			raw, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return m, protowire.ParseError(n2)
			}
			p, err := parsePoint(raw)
			if err != nil {
				return m, fmt.Errorf("coordinates: %w", err)
			}
			m.Coordinates = append(m.Coordinates, p)
			data = data[n2:]

		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return m, protowire.ParseError(n2)
			}
			data = data[n2:]
		}
	}
	return m, nil
}

func parsePoint(data []byte) (Point, error) {
	var p Point
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case 1:
			v, n2 := protowire.ConsumeFixed32(data)
			if n2 < 0 {
				return p, protowire.ParseError(n2)
			}
			p.X = math.Float32frombits(v)
			data = data[n2:]

		case 2:
			v, n2 := protowire.ConsumeFixed32(data)
			if n2 < 0 {
				return p, protowire.ParseError(n2)
			}
			p.Y = math.Float32frombits(v)
			data = data[n2:]

		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return p, protowire.ParseError(n2)
			}
			data = data[n2:]
		}
	}
	return p, nil
}

func parseTissueRaster(data []byte) (TissueRaster, error) {
	var r TissueRaster
	var raw []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case 1:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return r, protowire.ParseError(n2)
			}
			r.Width = int32(v)
			data = data[n2:]

		case 2:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return r, protowire.ParseError(n2)
			}
			r.Height = int32(v)
			data = data[n2:]

		case 3:
			v, n2 := protowire.ConsumeBytes(data)
			if n2 < 0 {
				return r, protowire.ParseError(n2)
			}
			raw = v
			data = data[n2:]

		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return r, protowire.ParseError(n2)
			}
			data = data[n2:]
		}
	}

	decoded, err := decompressTissueData(raw)
	if err != nil {
		return r, err
	}
	r.Data = decoded
	return r, nil
}

func parseMapEntry(data []byte) (int32, string, error) {
	var key int32
	var val string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, "", protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case 1:
			v, n2 := protowire.ConsumeVarint(data)
			if n2 < 0 {
				return 0, "", protowire.ParseError(n2)
			}
			key = int32(v)
			data = data[n2:]

		case 2:
			v, n2 := protowire.ConsumeString(data)
			if n2 < 0 {
				return 0, "", protowire.ParseError(n2)
			}
			val = v
			data = data[n2:]

		default:
			n2 := protowire.ConsumeFieldValue(num, typ, data)
			if n2 < 0 {
				return 0, "", protowire.ParseError(n2)
			}
			data = data[n2:]
		}
	}
	return key, val, nil
}

// zlibHeaderByte is the first byte of a zlib stream with the default
// compression level, per RFC 1950's CMF/FLG header.
const zlibHeaderByte = 0x78

// decompressTissueData inflates data if it looks zlib-compressed (a
// header starting with 0x78), otherwise returns it unchanged.
func decompressTissueData(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != zlibHeaderByte {
		return data, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("segfile: zlib: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// zstdDecoder is created once and reused across blob decodes, the same
// pattern as the teacher's Zarr chunk reader.
var zstdDecoder, _ = zstd.NewReader(nil)

// DecodeTissueBlob decompresses and parses a v2-schema TissueBlob into a
// TissueRaster. The decompressed layout is a fixed little-endian header
// (width, height as uint32) followed by width*height class-id bytes.
func (t *Tile) DecodeTissueBlob() (*TissueRaster, error) {
	if len(t.TissueBlob) == 0 {
		return nil, fmt.Errorf("segfile: tile has no tissue_blob")
	}
	raw, err := zstdDecoder.DecodeAll(t.TissueBlob, nil)
	if err != nil {
		return nil, fmt.Errorf("segfile: zstd: %w", err)
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("segfile: tissue_blob too short: %d bytes", len(raw))
	}
	width := int32(binary.LittleEndian.Uint32(raw[0:4]))
	height := int32(binary.LittleEndian.Uint32(raw[4:8]))
	pix := raw[8:]
	if int64(len(pix)) < int64(width)*int64(height) {
		return nil, fmt.Errorf("segfile: tissue_blob payload shorter than width*height")
	}
	return &TissueRaster{Width: width, Height: height, Data: pix[:int64(width)*int64(height)]}, nil
}

// DecodeCellsBlob decompresses and parses a v2-schema CellsBlob into a
// slice of Masks. The decompressed layout is a sequence of records, each a
// little-endian (cell_type uint32, point_count uint32) header followed by
// point_count (x, y) float32 pairs.
func (t *Tile) DecodeCellsBlob() ([]Mask, error) {
	if len(t.CellsBlob) == 0 {
		return nil, fmt.Errorf("segfile: tile has no cells_blob")
	}
	raw, err := zstdDecoder.DecodeAll(t.CellsBlob, nil)
	if err != nil {
		return nil, fmt.Errorf("segfile: zstd: %w", err)
	}

	var masks []Mask
	for len(raw) > 0 {
		if len(raw) < 8 {
			return nil, fmt.Errorf("segfile: cells_blob record header truncated")
		}
		cellType := int32(binary.LittleEndian.Uint32(raw[0:4]))
		count := binary.LittleEndian.Uint32(raw[4:8])
		raw = raw[8:]

		need := int64(count) * 8
		if int64(len(raw)) < need {
			return nil, fmt.Errorf("segfile: cells_blob record body truncated")
		}
		coords := make([]Point, count)
		for i := uint32(0); i < count; i++ {
			off := i * 8
			coords[i] = Point{
				X: math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4])),
				Y: math.Float32frombits(binary.LittleEndian.Uint32(raw[off+4 : off+8])),
			}
		}
		masks = append(masks, Mask{CellType: cellType, Coordinates: coords})
		raw = raw[need:]
	}
	return masks, nil
}

// FallbackPalette is the built-in cell-type color cycle used when a cell
// type's name has no entry in the polygon overlay's named color table.
var FallbackPalette = [10][3]byte{
	{230, 25, 75}, {60, 180, 75}, {255, 225, 25}, {0, 130, 200}, {245, 130, 48},
	{145, 30, 180}, {70, 240, 240}, {240, 50, 230}, {210, 245, 60}, {250, 190, 212},
}

// FallbackColor cycles FallbackPalette by cell type when no explicit
// mapping is known.
func FallbackColor(cellType int32) (r, g, b byte) {
	idx := int(cellType) % len(FallbackPalette)
	if idx < 0 {
		idx += len(FallbackPalette)
	}
	c := FallbackPalette[idx]
	return c[0], c[1], c[2]
}
