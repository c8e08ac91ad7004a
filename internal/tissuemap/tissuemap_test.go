package tissuemap

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"github.com/pathview/viewer/internal/geom"
	"github.com/pathview/viewer/internal/perr"
	"github.com/pathview/viewer/internal/renderer"
	"github.com/pathview/viewer/internal/viewport"
)

func makeTile(level, tx, ty, w, h int, classData []byte) *TissueTile {
	return &TissueTile{Level: level, TileX: tx, TileY: ty, Width: w, Height: h, ClassData: classData}
}

func TestSetDataComputesScaleFactorAndBounds(t *testing.T) {
	o := NewOverlay()
	tile := makeTile(1, 2, 3, 4, 4, make([]byte, 16))
	o.SetData([]*TissueTile{tile}, map[int32]TissueClass{}, 3)

	wantScale := 4.0 // 2^(3-1)
	if tile.ScaleFactor != wantScale {
		t.Errorf("ScaleFactor = %v, want %v", tile.ScaleFactor, wantScale)
	}
	wantBounds := geom.Rect{X: 2 * 4 * wantScale, Y: 3 * 4 * wantScale, W: 4 * wantScale, H: 4 * wantScale}
	if tile.Bounds != wantBounds {
		t.Errorf("Bounds = %+v, want %+v", tile.Bounds, wantBounds)
	}
	if tile.TextureValid {
		t.Error("expected TextureValid=false after SetData")
	}
}

func TestSetDataRegistersUnmappedClasses(t *testing.T) {
	o := NewOverlay()
	tile := makeTile(0, 0, 0, 2, 2, []byte{1, 2, 1, 2})
	mapping := map[int32]TissueClass{1: {Name: "tumor", Color: renderer.RGBA{R: 255, A: 255}, Visible: true}}
	o.SetData([]*TissueTile{tile}, mapping, 0)

	c1, ok := o.Class(1)
	if !ok || c1.Name != "tumor" {
		t.Errorf("expected mapped class 1 = tumor, got %+v ok=%v", c1, ok)
	}
	c2, ok := o.Class(2)
	if !ok {
		t.Fatal("expected class 2 to be auto-registered from class_data")
	}
	if !c2.Visible {
		t.Error("expected auto-registered class to default to visible")
	}
}

func TestLUTReflectsVisibilityAndColor(t *testing.T) {
	o := NewOverlay()
	tile := makeTile(0, 0, 0, 1, 1, []byte{5})
	mapping := map[int32]TissueClass{5: {Name: "stroma", Color: renderer.RGBA{R: 10, G: 20, B: 30, A: 255}, Visible: true}}
	o.SetData([]*TissueTile{tile}, mapping, 0)

	if o.lut[5].A == 0 {
		t.Error("expected visible class 5 to have non-transparent LUT entry")
	}
	if o.lut[6] != (renderer.RGBA{}) {
		t.Error("expected unknown class 6 to be fully transparent in LUT")
	}

	o.SetClassVisible(5, false)
	if o.lut[5].A != 0 {
		t.Error("expected hiding class 5 to zero its LUT alpha")
	}
	if tile.TextureValid {
		t.Error("expected SetClassVisible to invalidate textures")
	}
}

func TestSetClassColorInvalidatesTextures(t *testing.T) {
	o := NewOverlay()
	tile := makeTile(0, 0, 0, 1, 1, []byte{5})
	o.SetData([]*TissueTile{tile}, map[int32]TissueClass{5: {Visible: true}}, 0)
	tile.TextureValid = true

	o.SetClassColor(5, renderer.RGBA{R: 200, A: 255})
	if tile.TextureValid {
		t.Error("expected SetClassColor to invalidate textures")
	}
	if o.lut[5].R != 200 {
		t.Errorf("lut[5].R = %d, want 200", o.lut[5].R)
	}
}

func TestSetAllVisibleTogglesEveryClass(t *testing.T) {
	o := NewOverlay()
	tile := makeTile(0, 0, 0, 2, 1, []byte{1, 2})
	o.SetData([]*TissueTile{tile}, map[int32]TissueClass{
		1: {Color: renderer.RGBA{R: 1, A: 255}, Visible: true},
		2: {Color: renderer.RGBA{R: 2, A: 255}, Visible: true},
	}, 0)

	if o.lut[1].A == 0 || o.lut[2].A == 0 {
		t.Fatal("expected both classes visible before toggling")
	}

	o.SetAllVisible(false)
	if o.lut[1].A != 0 || o.lut[2].A != 0 {
		t.Error("expected SetAllVisible(false) to zero every class's LUT alpha")
	}
}

// recordingRenderer captures texture lifecycle and draw calls.
type recordingRenderer struct {
	created int
	drawn   int
}

type fakeHandle struct{ id int }

func (r *recordingRenderer) CreateTexture(w, h int, pix []byte) renderer.TextureHandle {
	r.created++
	return &fakeHandle{id: r.created}
}
func (r *recordingRenderer) DestroyTexture(renderer.TextureHandle) {}
func (r *recordingRenderer) DrawTexturedQuad(renderer.TextureHandle, geom.Rect, float64, float64, float64, float64, float64) {
	r.drawn++
}
func (r *recordingRenderer) DrawLines([]geom.Vec2, renderer.RGBA, float64)      {}
func (r *recordingRenderer) DrawTriangles([]geom.Vec2, []int, renderer.RGBA)   {}
func (r *recordingRenderer) SetBlendMode(renderer.BlendMode)                  {}

func TestRenderRastersOnceAndDraws(t *testing.T) {
	o := NewOverlay()
	o.SetSlideDimensions(1000, 1000)
	tile := makeTile(0, 0, 0, 4, 4, make([]byte, 16))
	o.SetData([]*TissueTile{tile}, map[int32]TissueClass{}, 0)

	v := viewport.New(800, 600, 1000, 1000)
	rr := &recordingRenderer{}

	o.Render(v, rr)
	if rr.created != 1 {
		t.Fatalf("expected 1 CreateTexture call, got %d", rr.created)
	}
	if rr.drawn != 1 {
		t.Fatalf("expected 1 DrawTexturedQuad call, got %d", rr.drawn)
	}

	o.Render(v, rr)
	if rr.created != 1 {
		t.Errorf("expected texture to be reused on second render, created=%d", rr.created)
	}
	if rr.drawn != 2 {
		t.Errorf("expected a second draw call, got %d", rr.drawn)
	}
}

func TestRenderSkipsWhenHidden(t *testing.T) {
	o := NewOverlay()
	tile := makeTile(0, 0, 0, 2, 2, make([]byte, 4))
	o.SetData([]*TissueTile{tile}, map[int32]TissueClass{}, 0)
	o.SetVisible(false)

	v := viewport.New(800, 600, 1000, 1000)
	rr := &recordingRenderer{}
	o.Render(v, rr)
	if rr.drawn != 0 {
		t.Errorf("expected no draw calls while hidden, got %d", rr.drawn)
	}
}

func TestSetDataAssignsDefaultTissuePaletteToUnnamedAndUncoloredClasses(t *testing.T) {
	o := NewOverlay()
	tile := makeTile(0, 0, 0, 3, 1, []byte{0, 1, 13})
	mapping := map[int32]TissueClass{0: {Name: "tumor", Visible: true}}
	o.SetData([]*TissueTile{tile}, mapping, 0)

	c0, _ := o.Class(0)
	if c0.Color != defaultTissueColor(0) {
		t.Errorf("named class with no explicit color = %+v, want default %+v", c0.Color, defaultTissueColor(0))
	}
	c1, ok := o.Class(1)
	if !ok || c1.Color != defaultTissueColor(1) {
		t.Errorf("auto-registered class 1 color = %+v, want default %+v", c1.Color, defaultTissueColor(1))
	}
	c13, ok := o.Class(13)
	if !ok || c13.Color != defaultTissueColor(13) {
		t.Errorf("auto-registered class 13 color = %+v, want default %+v (cycled)", c13.Color, defaultTissueColor(13))
	}
}

func TestSetDataKeepsExplicitNonZeroColor(t *testing.T) {
	o := NewOverlay()
	tile := makeTile(0, 0, 0, 1, 1, []byte{5})
	custom := renderer.RGBA{R: 10, G: 20, B: 30, A: 255}
	o.SetData([]*TissueTile{tile}, map[int32]TissueClass{5: {Color: custom, Visible: true}}, 0)

	c5, _ := o.Class(5)
	if c5.Color != custom {
		t.Errorf("explicit color = %+v, want unchanged %+v", c5.Color, custom)
	}
}

func TestExportPNGOnEmptyOverlayReturnsInvalidInput(t *testing.T) {
	o := NewOverlay()
	_, _, _, err := o.ExportPNG(0)
	if !errors.Is(err, perr.ErrInvalidInput) {
		t.Fatalf("ExportPNG on empty overlay = %v, want perr.ErrInvalidInput", err)
	}
}

func TestExportPNGProducesDecodablePNGSizedToMaxDim(t *testing.T) {
	o := NewOverlay()
	o.SetSlideDimensions(2000, 1000)
	tile := makeTile(0, 0, 0, 4, 4, []byte{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	tile.Bounds = geom.Rect{X: 0, Y: 0, W: 2000, H: 1000}
	o.SetData([]*TissueTile{tile}, map[int32]TissueClass{1: {Color: renderer.RGBA{R: 255, A: 255}, Visible: true}}, 0)

	pngBytes, w, h, err := o.ExportPNG(500)
	if err != nil {
		t.Fatalf("ExportPNG: %v", err)
	}
	if w != 500 || h != 250 {
		t.Errorf("ExportPNG dims = %dx%d, want 500x250 (2:1 aspect preserved)", w, h)
	}

	img, err := png.Decode(bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatalf("decoding exported PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Errorf("decoded PNG bounds = %v, want %dx%d", b, w, h)
	}
}

func TestExportPNGUsesDefaultMaxDimWhenZero(t *testing.T) {
	o := NewOverlay()
	o.SetSlideDimensions(4000, 4000)
	tile := makeTile(0, 0, 0, 2, 2, []byte{0, 0, 0, 0})
	tile.Bounds = geom.Rect{X: 0, Y: 0, W: 4000, H: 4000}
	o.SetData([]*TissueTile{tile}, map[int32]TissueClass{}, 0)

	_, w, h, err := o.ExportPNG(0)
	if err != nil {
		t.Fatalf("ExportPNG: %v", err)
	}
	if w != DefaultExportMaxDim || h != DefaultExportMaxDim {
		t.Errorf("ExportPNG dims = %dx%d, want %dx%d", w, h, DefaultExportMaxDim, DefaultExportMaxDim)
	}
}

func TestTileGridIndexQueryFiltersDisjointTiles(t *testing.T) {
	idx := newTileGridIndex(10, 10, 1000, 1000)
	near := makeTile(0, 0, 0, 10, 10, nil)
	near.Bounds = geom.Rect{X: 0, Y: 0, W: 50, H: 50}
	far := makeTile(0, 9, 9, 10, 10, nil)
	far.Bounds = geom.Rect{X: 900, Y: 900, W: 50, H: 50}
	idx.build([]*TissueTile{near, far})

	got := idx.query(geom.Rect{X: 0, Y: 0, W: 100, H: 100})
	if len(got) != 1 || got[0] != near {
		t.Errorf("expected only the near tile, got %v", got)
	}
}
