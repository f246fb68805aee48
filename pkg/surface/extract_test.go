package surface

import (
	"math"
	"testing"

	"github.com/krschwarz/imgcube/internal/models"
	"github.com/krschwarz/imgcube/pkg/cube"
)

// testCube builds a single-channel cube with symmetric position axes at
// 0.1 arcsec per pixel.
func testCube(t *testing.T, nx, ny int) *cube.Cube {
	t.Helper()
	hdr := &models.Header{}
	hdr.X = models.Axis{N: nx, RefPix: float64(nx+2) / 2.0, Delta: 0.1 / 3600.0}
	hdr.Y = models.Axis{N: ny, RefPix: float64(ny+2) / 2.0, Delta: 0.1 / 3600.0}
	hdr.Spectral = models.Axis{N: 1, RefPix: 1.0, Delta: 100.0}
	hdr.SpectralType = "VELO-LSR"
	hdr.BUnit = "K"
	hdr.Beam = models.Beam{Maj: 0.2, Min: 0.2}
	hdr.HasBeam = true

	c, err := cube.New(hdr, make([]float64, nx*ny), cube.Options{
		Warn: func(string, ...interface{}) {},
	})
	if err != nil {
		t.Fatalf("Failed to build test cube: %v", err)
	}
	return c
}

// TestExtractTwoLayerRidge verifies the geometric conversion of a pair
// of emission ridges into an emission height.
func TestExtractTwoLayerRidge(t *testing.T) {
	c := testCube(t, 31, 31)
	inc := 30.0
	sini := math.Sin(inc * math.Pi / 180.0)
	cosi := math.Cos(inc * math.Pi / 180.0)

	// Two horizontal ridges: the brighter far side at y=+0.3 and the
	// fainter near side at y=-0.1. The midpoint offset of +0.1 encodes
	// an emission height of 0.1/sin(inc) on the northern side.
	yFar, yNear := 0.3, -0.1
	for j := 0; j < c.NY; j++ {
		y := c.Yaxis[j]
		far := math.Exp(-math.Pow((y-yFar)/0.08, 2.0))
		near := 0.7 * math.Exp(-math.Pow((y-yNear)/0.08, 2.0))
		for i := 0; i < c.NX; i++ {
			c.Data[j*c.NX+i] = far + near
		}
	}

	disk := &models.DiskGeometry{
		Inc: inc, Dist: 100.0, MStar: 1.0, Nearest: models.North,
	}
	res, err := Extract(c, disk, ExtractOptions{Method: ReduceRaw})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if res.Nearest != models.North {
		t.Errorf("Expected the northern side to win the vote, got %v", res.Nearest)
	}
	if len(res.Points) < 2 {
		t.Fatalf("Expected multiple ridge detections, got %d", len(res.Points))
	}

	wantZ := 0.1 / sini
	for _, p := range res.Points {
		if math.Abs(p.Z-wantZ) > 0.05 {
			t.Errorf("Expected emission height %f, got %f at r=%f", wantZ, p.Z, p.R)
		}
		// The radius combines the column offset with the deprojected
		// half-separation of the ridges
		dy := 0.5 * (yFar - yNear) / cosi
		if p.R < dy-1e-6 {
			t.Errorf("Radius %f below the deprojected ridge separation %f", p.R, dy)
		}
	}
}

// TestExtractRawSurfaceTable verifies that the raw-reducer output,
// which carries tied radii from mirrored image columns, builds a valid
// surface table.
func TestExtractRawSurfaceTable(t *testing.T) {
	c := testCube(t, 31, 31)
	yFar, yNear := 0.3, -0.1
	for j := 0; j < c.NY; j++ {
		y := c.Yaxis[j]
		far := math.Exp(-math.Pow((y-yFar)/0.08, 2.0))
		near := 0.7 * math.Exp(-math.Pow((y-yNear)/0.08, 2.0))
		for i := 0; i < c.NX; i++ {
			c.Data[j*c.NX+i] = far + near
		}
	}
	disk := &models.DiskGeometry{
		Inc: 30.0, Dist: 100.0, MStar: 1.0, Nearest: models.North,
	}

	res, err := Extract(c, disk, ExtractOptions{Method: ReduceRaw})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	// Symmetric columns at +/-x detect the same disk radius
	dups := 0
	for i := 1; i < len(res.R); i++ {
		if res.R[i] == res.R[i-1] {
			dups++
		}
	}
	if dups == 0 {
		t.Fatal("Expected tied radii among the raw detections")
	}

	m := NewModel()
	if err := m.SetTable(res.R, res.Z, res.DZ); err != nil {
		t.Fatalf("SetTable rejected the raw detections: %v", err)
	}
	mid := 0.5 * (res.R[0] + res.R[len(res.R)-1])
	if h := m.HeightAt(mid); math.IsNaN(h) {
		t.Errorf("Expected a finite height at r=%f, got NaN", mid)
	}
}

// TestExtractValidation verifies the option and geometry checks.
func TestExtractValidation(t *testing.T) {
	c := testCube(t, 11, 11)
	disk := &models.DiskGeometry{Inc: 30.0, Dist: 100.0, MStar: 1.0}

	if _, err := Extract(c, disk, ExtractOptions{Method: "spline"}); err == nil {
		t.Error("Expected error for an unknown reducer")
	}

	bad := &models.DiskGeometry{Inc: 0.0, Dist: 100.0, MStar: 1.0}
	if _, err := Extract(c, bad, ExtractOptions{}); err == nil {
		t.Error("Expected error for a face-on disk")
	}

	// A featureless cube has no ridges to detect
	if _, err := Extract(c, disk, ExtractOptions{Method: ReduceRaw}); err == nil {
		t.Error("Expected error for a featureless cube")
	}
}

// TestReduceBinned verifies the per-bin reduction.
func TestReduceBinned(t *testing.T) {
	r := []float64{0.1, 0.2, 1.1, 1.2}
	z := []float64{0.4, 0.6, 1.0, 1.0}
	edges := []float64{0.0, 1.0, 2.0}
	rvals := []float64{0.5, 1.5}

	ro, zo, dzo := reduceBinned(r, z, edges, rvals)
	if len(ro) != 2 {
		t.Fatalf("Expected 2 bins, got %d", len(ro))
	}
	if math.Abs(zo[0]-0.5) > 1e-9 {
		t.Errorf("Expected bin mean 0.5, got %f", zo[0])
	}
	if math.Abs(zo[1]-1.0) > 1e-9 {
		t.Errorf("Expected bin mean 1.0, got %f", zo[1])
	}
	if dzo[1] > 1e-9 {
		t.Errorf("Expected zero scatter in bin 1, got %f", dzo[1])
	}
}

// TestRunningStdev verifies the sliding-window scatter estimate.
func TestRunningStdev(t *testing.T) {
	z := []float64{1, 1, 1, 1, 1}
	for _, s := range runningStdev(z, 3) {
		if s > 1e-12 {
			t.Errorf("Expected zero scatter on constant data, got %f", s)
		}
	}

	out := runningStdev([]float64{0, 10, 0, 10, 0}, 3)
	if len(out) != 5 {
		t.Fatalf("Expected 5 samples, got %d", len(out))
	}
	for i, s := range out {
		if s <= 0 {
			t.Errorf("Expected positive scatter at %d, got %f", i, s)
		}
	}
}
