package segfile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"testing"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// appendString/appendVarint/appendBytes/appendFixed32 build a length-
// delimited or varint protobuf field by hand, mirroring the manual decode
// side in segfile.go.

func appendVarintField(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

func appendBytesField(buf []byte, num protowire.Number, v []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, v)
}

func appendStringField(buf []byte, num protowire.Number, v string) []byte {
	return appendBytesField(buf, num, []byte(v))
}

func appendFixed32Field(buf []byte, num protowire.Number, v float32) []byte {
	buf = protowire.AppendTag(buf, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(buf, math.Float32bits(v))
}

func buildPoint(x, y float32) []byte {
	var buf []byte
	buf = appendFixed32Field(buf, 1, x)
	buf = appendFixed32Field(buf, 2, y)
	return buf
}

func buildMask(cellType int32, pts [][2]float32) []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(uint32(cellType)))
	for _, p := range pts {
		buf = appendBytesField(buf, 2, buildPoint(p[0], p[1]))
	}
	return buf
}

func buildTissueRaster(width, height int32, raw []byte) []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(uint32(width)))
	buf = appendVarintField(buf, 2, uint64(uint32(height)))
	buf = appendBytesField(buf, 3, raw)
	return buf
}

// buildTile assembles one tile message; the cells/tissue blobs go in fields
// 8 and 9 (only used by v2 tiles in these tests).
func buildTile(level, x, y, w, h int32, masks [][]byte, raster []byte, cellsBlob, tissueBlob []byte) []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(uint32(level)))
	buf = appendVarintField(buf, 2, uint64(uint32(x)))
	buf = appendVarintField(buf, 3, uint64(uint32(y)))
	buf = appendVarintField(buf, 4, uint64(uint32(w)))
	buf = appendVarintField(buf, 5, uint64(uint32(h)))
	for _, m := range masks {
		buf = appendBytesField(buf, 6, m)
	}
	if raster != nil {
		buf = appendBytesField(buf, 7, raster)
	}
	if cellsBlob != nil {
		buf = appendBytesField(buf, 8, cellsBlob)
	}
	if tissueBlob != nil {
		buf = appendBytesField(buf, 9, tissueBlob)
	}
	return buf
}

func buildMapEntry(key int32, val string) []byte {
	var buf []byte
	buf = appendVarintField(buf, 1, uint64(uint32(key)))
	buf = appendStringField(buf, 2, val)
	return buf
}

func TestLoadParsesSchemaV1Layout(t *testing.T) {
	mask := buildMask(3, [][2]float32{{1, 2}, {3, 4}})
	tile := buildTile(0, 1, 1, 256, 256, [][]byte{mask}, nil, nil, nil)

	var buf []byte
	buf = appendStringField(buf, 1, "slide-a")
	buf = appendBytesField(buf, 2, tile) // v1: tiles = field 2
	buf = appendVarintField(buf, 3, 4)   // v1: max_level = field 3
	buf = appendBytesField(buf, 4, buildMapEntry(0, "background"))

	got, err := Load(buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SchemaVersion != 1 {
		t.Errorf("SchemaVersion = %d, want 1", got.SchemaVersion)
	}
	if got.SlideID != "slide-a" {
		t.Errorf("SlideID = %q, want %q", got.SlideID, "slide-a")
	}
	if got.MaxLevel != 4 {
		t.Errorf("MaxLevel = %d, want 4", got.MaxLevel)
	}
	if len(got.Tiles) != 1 {
		t.Fatalf("len(Tiles) = %d, want 1", len(got.Tiles))
	}
	tl := got.Tiles[0]
	if tl.Level != 0 || tl.X != 1 || tl.Y != 1 || tl.Width != 256 || tl.Height != 256 {
		t.Errorf("tile geometry = %+v, unexpected", tl)
	}
	if len(tl.Masks) != 1 || tl.Masks[0].CellType != 3 || len(tl.Masks[0].Coordinates) != 2 {
		t.Fatalf("Masks = %+v, unexpected", tl.Masks)
	}
	if tl.Masks[0].Coordinates[1].X != 3 || tl.Masks[0].Coordinates[1].Y != 4 {
		t.Errorf("second coordinate = %+v, want (3,4)", tl.Masks[0].Coordinates[1])
	}
	if got.TissueClassMapping[0] != "background" {
		t.Errorf("TissueClassMapping[0] = %q, want %q", got.TissueClassMapping[0], "background")
	}
}

func TestLoadParsesSchemaV2LayoutWithCellClassNames(t *testing.T) {
	tile := buildTile(0, 0, 0, 128, 128, nil, nil, nil, nil)

	var buf []byte
	buf = appendStringField(buf, 1, "slide-b")
	buf = appendVarintField(buf, 2, 6)   // v2: max_level = field 2
	buf = appendBytesField(buf, 3, tile) // v2: tiles = field 3
	buf = appendStringField(buf, 5, "tumor")
	buf = appendStringField(buf, 5, "stroma")

	got, err := Load(buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SchemaVersion != 2 {
		t.Errorf("SchemaVersion = %d, want 2", got.SchemaVersion)
	}
	if got.MaxLevel != 6 {
		t.Errorf("MaxLevel = %d, want 6", got.MaxLevel)
	}
	if len(got.Tiles) != 1 {
		t.Fatalf("len(Tiles) = %d, want 1", len(got.Tiles))
	}
	if len(got.CellClassNames) != 2 || got.CellClassNames[0] != "tumor" || got.CellClassNames[1] != "stroma" {
		t.Errorf("CellClassNames = %v, unexpected", got.CellClassNames)
	}
}

func TestLoadFallsBackToV1WhenV2HasNoTiles(t *testing.T) {
	// Field 3 (v2's tiles number) is used here for max_level, so a v2 parse
	// of this buffer yields no tiles and Load must fall back to the v1 layout.
	mask := buildMask(1, [][2]float32{{0, 0}})
	tile := buildTile(2, 5, 5, 64, 64, [][]byte{mask}, nil, nil, nil)

	var buf []byte
	buf = appendBytesField(buf, 2, tile)
	buf = appendVarintField(buf, 3, 9)

	got, err := Load(buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SchemaVersion != 1 {
		t.Errorf("SchemaVersion = %d, want 1 (fallback)", got.SchemaVersion)
	}
	if len(got.Tiles) != 1 || got.Tiles[0].Level != 2 {
		t.Fatalf("Tiles = %+v, unexpected", got.Tiles)
	}
}

func TestLoadReturnsErrorWhenNeitherSchemaYieldsTiles(t *testing.T) {
	var buf []byte
	buf = appendStringField(buf, 1, "empty-slide")

	_, err := Load(buf)
	if err == nil {
		t.Fatal("expected an error when no tiles are present under either schema")
	}
}

func TestParseTissueRasterDetectsRawVsZlibData(t *testing.T) {
	raw := []byte{0, 1, 2, 3, 4, 5}

	rasterRaw := buildTissueRaster(3, 2, raw)
	got, err := parseTissueRaster(rasterRaw)
	if err != nil {
		t.Fatalf("parseTissueRaster (raw): %v", err)
	}
	if !bytes.Equal(got.Data, raw) {
		t.Errorf("raw Data = %v, want %v", got.Data, raw)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	if compressed.Bytes()[0] != zlibHeaderByte {
		t.Fatalf("test fixture invalid: compressed data does not start with 0x78")
	}

	rasterZlib := buildTissueRaster(3, 2, compressed.Bytes())
	gotZlib, err := parseTissueRaster(rasterZlib)
	if err != nil {
		t.Fatalf("parseTissueRaster (zlib): %v", err)
	}
	if !bytes.Equal(gotZlib.Data, raw) {
		t.Errorf("zlib-decoded Data = %v, want %v", gotZlib.Data, raw)
	}
}

func encodeTissueBlob(t *testing.T, width, height int32, pix []byte) []byte {
	t.Helper()
	var raw []byte
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(width))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(height))
	raw = append(raw, hdr[:]...)
	raw = append(raw, pix...)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil)
}

func TestDecodeTissueBlobRoundTrips(t *testing.T) {
	pix := []byte{9, 8, 7, 6, 5, 4}
	tile := Tile{TissueBlob: encodeTissueBlob(t, 3, 2, pix)}

	raster, err := tile.DecodeTissueBlob()
	if err != nil {
		t.Fatalf("DecodeTissueBlob: %v", err)
	}
	if raster.Width != 3 || raster.Height != 2 {
		t.Errorf("dims = %dx%d, want 3x2", raster.Width, raster.Height)
	}
	if !bytes.Equal(raster.Data, pix) {
		t.Errorf("Data = %v, want %v", raster.Data, pix)
	}
}

func encodeCellsBlob(t *testing.T, records []Mask) []byte {
	t.Helper()
	var raw []byte
	for _, m := range records {
		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(m.CellType))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(m.Coordinates)))
		raw = append(raw, hdr[:]...)
		for _, p := range m.Coordinates {
			var xy [8]byte
			binary.LittleEndian.PutUint32(xy[0:4], math.Float32bits(p.X))
			binary.LittleEndian.PutUint32(xy[4:8], math.Float32bits(p.Y))
			raw = append(raw, xy[:]...)
		}
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil)
}

func TestDecodeCellsBlobRoundTrips(t *testing.T) {
	want := []Mask{
		{CellType: 2, Coordinates: []Point{{X: 1, Y: 2}, {X: 3, Y: 4}}},
		{CellType: 7, Coordinates: []Point{{X: 5, Y: 6}}},
	}
	tile := Tile{CellsBlob: encodeCellsBlob(t, want)}

	got, err := tile.DecodeCellsBlob()
	if err != nil {
		t.Fatalf("DecodeCellsBlob: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].CellType != want[i].CellType {
			t.Errorf("record %d CellType = %d, want %d", i, got[i].CellType, want[i].CellType)
		}
		if len(got[i].Coordinates) != len(want[i].Coordinates) {
			t.Fatalf("record %d Coordinates = %v, want %v", i, got[i].Coordinates, want[i].Coordinates)
		}
		for j := range want[i].Coordinates {
			if got[i].Coordinates[j] != want[i].Coordinates[j] {
				t.Errorf("record %d point %d = %v, want %v", i, j, got[i].Coordinates[j], want[i].Coordinates[j])
			}
		}
	}
}

func TestFallbackColorCyclesTenColorPalette(t *testing.T) {
	r0, g0, b0 := FallbackColor(0)
	r10, g10, b10 := FallbackColor(10)
	if r0 != r10 || g0 != g10 || b0 != b10 {
		t.Errorf("FallbackColor(0) = (%d,%d,%d), FallbackColor(10) = (%d,%d,%d), want equal (cycle of 10)",
			r0, g0, b0, r10, g10, b10)
	}

	r1, _, _ := FallbackColor(1)
	if r0 == r1 {
		t.Error("expected distinct fallback colors for distinct cell types within one cycle")
	}

	// Negative cell types must still map into range rather than panicking.
	rNeg, _, _ := FallbackColor(-3)
	rWant, _, _ := FallbackColor(7)
	if rNeg != rWant {
		t.Errorf("FallbackColor(-3) = %d, want same as FallbackColor(7) = %d", rNeg, rWant)
	}
}
