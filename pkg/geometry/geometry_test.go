package geometry

import (
	"math"
	"testing"

	"github.com/krschwarz/imgcube/internal/models"
	"github.com/krschwarz/imgcube/pkg/cube"
)

// testCube builds a cube with symmetric position axes at 0.1 arcsec per
// pixel and a flat velocity axis.
func testCube(t *testing.T, nx, ny, nv int) *cube.Cube {
	t.Helper()
	hdr := &models.Header{}
	hdr.X = models.Axis{N: nx, RefPix: float64(nx+2) / 2.0, Delta: 0.1 / 3600.0}
	hdr.Y = models.Axis{N: ny, RefPix: float64(ny+2) / 2.0, Delta: 0.1 / 3600.0}
	hdr.Spectral = models.Axis{N: nv, RefPix: 1.0, RefVal: -1000.0, Delta: 100.0}
	hdr.SpectralType = "VELO-LSR"
	hdr.BUnit = "K"
	hdr.Beam = models.Beam{Maj: 0.2, Min: 0.2}
	hdr.HasBeam = true

	c, err := cube.New(hdr, make([]float64, nv*ny*nx), cube.Options{})
	if err != nil {
		t.Fatalf("Failed to build test cube: %v", err)
	}
	return c
}

// flatHeight is a trivially defined zero-height surface.
type flatHeight struct{}

func (flatHeight) HeightAt(r float64) float64 { return 0.0 }
func (flatHeight) Defined() bool              { return true }

// TestDeprojectFlatRadii verifies that at zero inclination the disk
// radius reduces to the sky-plane distance from the centre.
func TestDeprojectFlatRadii(t *testing.T) {
	c := testCube(t, 11, 11, 1)
	coords := DeprojectFlat(c, 0.0, 0.0, 0.0, 0.0)

	for j := 0; j < c.NY; j++ {
		for i := 0; i < c.NX; i++ {
			want := math.Hypot(c.Xaxis[i], c.Yaxis[j])
			got := coords.R[j*c.NX+i]
			if math.Abs(got-want) > 1e-9 {
				t.Fatalf("Pixel (%d,%d): expected radius %f, got %f", j, i, want, got)
			}
		}
	}
}

// TestDeprojectFlatInclination verifies the cos(inc) stretch of the
// projected minor axis.
func TestDeprojectFlatInclination(t *testing.T) {
	c := testCube(t, 11, 11, 1)
	inc := 60.0

	face := DeprojectFlat(c, 0.0, 0.0, 0.0, 0.0)
	tilted := DeprojectFlat(c, 0.0, 0.0, inc, 0.0)

	// The radius of every pixel can only grow under deprojection, up to
	// a factor 1/cos(inc) on the minor axis
	stretch := 1.0 / math.Cos(inc*math.Pi/180.0)
	for i := range face.R {
		if tilted.R[i] < face.R[i]-1e-9 {
			t.Fatalf("Pixel %d: radius shrank from %f to %f", i, face.R[i], tilted.R[i])
		}
		if tilted.R[i] > face.R[i]*stretch+1e-9 {
			t.Fatalf("Pixel %d: radius %f exceeds the maximum stretch of %f",
				i, tilted.R[i], face.R[i]*stretch)
		}
	}
}

// TestDeprojectRaisedZeroSurface verifies that a zero-height surface
// reproduces the thin-disk coordinates for any iteration count.
func TestDeprojectRaisedZeroSurface(t *testing.T) {
	c := testCube(t, 11, 11, 1)
	inc, pa := 45.0, 30.0

	flat := DeprojectFlat(c, 0.0, 0.0, inc, pa)
	raised, err := DeprojectRaised(c, flatHeight{}, 0.0, 0.0, inc, pa, models.North, 0)
	if err != nil {
		t.Fatalf("DeprojectRaised failed: %v", err)
	}

	for i := range flat.R {
		if math.Abs(flat.R[i]-raised.R[i]) > 1e-9 {
			t.Errorf("Pixel %d: expected radius %f, got %f", i, flat.R[i], raised.R[i])
		}
		if math.Abs(flat.Theta[i]-raised.Theta[i]) > 1e-9 {
			t.Errorf("Pixel %d: expected azimuth %f, got %f", i, flat.Theta[i], raised.Theta[i])
		}
	}
}

// TestDeprojectRaisedNeedsSurface verifies that an undefined surface is
// rejected.
func TestDeprojectRaisedNeedsSurface(t *testing.T) {
	c := testCube(t, 5, 5, 1)
	if _, err := DeprojectRaised(c, nil, 0.0, 0.0, 45.0, 0.0, models.North, 0); err == nil {
		t.Error("Expected error for a nil surface")
	}
}

// TestRadialSampling verifies the edge/centre conversions and the
// beam-based default.
func TestRadialSampling(t *testing.T) {
	// Explicit edges produce midpoints
	edges, centers, err := RadialSampling([]float64{1.0, 2.0, 3.0}, nil, 0.0, 0.0)
	if err != nil {
		t.Fatalf("RadialSampling failed: %v", err)
	}
	if len(edges) != 3 || len(centers) != 2 {
		t.Fatalf("Expected 3 edges and 2 centers, got %d and %d", len(edges), len(centers))
	}
	for i, want := range []float64{1.5, 2.5} {
		if math.Abs(centers[i]-want) > 1e-9 {
			t.Errorf("Center %d: expected %f, got %f", i, want, centers[i])
		}
	}

	// Explicit centers produce half-step edges
	edges, centers, err = RadialSampling(nil, []float64{0.5, 1.5, 2.5}, 0.0, 0.0)
	if err != nil {
		t.Fatalf("RadialSampling failed: %v", err)
	}
	for i, want := range []float64{0.0, 1.0, 2.0, 3.0} {
		if math.Abs(edges[i]-want) > 1e-9 {
			t.Errorf("Edge %d: expected %f, got %f", i, want, edges[i])
		}
	}
	if len(centers) != 3 {
		t.Errorf("Expected the 3 centers back, got %d", len(centers))
	}

	// Default: quarter-beam spacing out to rmax
	edges, centers, err = RadialSampling(nil, nil, 1.0, 1.0)
	if err != nil {
		t.Fatalf("RadialSampling failed: %v", err)
	}
	if len(centers) == 0 {
		t.Fatal("Expected default bins")
	}
	if math.Abs(edges[1]-edges[0]-0.25) > 1e-9 {
		t.Errorf("Expected quarter-beam bin width, got %f", edges[1]-edges[0])
	}

	// Both given is ambiguous
	if _, _, err := RadialSampling([]float64{1, 2}, []float64{1.5}, 0.0, 0.0); err == nil {
		t.Error("Expected error when both edges and centers are given")
	}
}

// TestRegionMask verifies the radial and azimuthal selection.
func TestRegionMask(t *testing.T) {
	c := testCube(t, 11, 11, 1)
	coords := DeprojectFlat(c, 0.0, 0.0, 45.0, 0.0)

	// Unbounded options select everything
	all := RegionMask(coords, NewMaskOptions())
	if CountMask(all) != c.NY*c.NX {
		t.Errorf("Expected %d selected pixels, got %d", c.NY*c.NX, CountMask(all))
	}

	// A radial window selects a strict subset
	opts := NewMaskOptions()
	opts.RMin, opts.RMax = 0.2, 0.4
	some := RegionMask(coords, opts)
	n := CountMask(some)
	if n == 0 || n >= c.NY*c.NX {
		t.Errorf("Expected a strict subset for a radial window, got %d", n)
	}
	for i, in := range some {
		if in && (coords.R[i] < opts.RMin || coords.R[i] > opts.RMax) {
			t.Fatalf("Pixel %d selected outside the radial window: r=%f", i, coords.R[i])
		}
	}
}

// TestRadialProfile verifies that a radially constant image produces a
// constant profile.
func TestRadialProfile(t *testing.T) {
	c := testCube(t, 21, 21, 1)
	for i := range c.Data {
		c.Data[i] = 5.0
	}
	coords := DeprojectFlat(c, 0.0, 0.0, 30.0, 0.0)

	rpnts, y, _, err := RadialProfile(c, coords, NewProfileOptions())
	if err != nil {
		t.Fatalf("RadialProfile failed: %v", err)
	}
	if len(rpnts) == 0 {
		t.Fatal("Expected a non-empty profile")
	}
	for i, v := range y {
		if math.IsNaN(v) {
			continue // empty outer bins
		}
		if math.Abs(v-5.0) > 1e-9 {
			t.Errorf("Bin %d (r=%f): expected 5.0, got %f", i, rpnts[i], v)
		}
	}
}

// TestRadialProfilePercentiles verifies the median statistic against a
// skewed image.
func TestRadialProfilePercentiles(t *testing.T) {
	c := testCube(t, 21, 21, 1)
	// Mostly 1.0 with a handful of strong outliers: the median resists
	// them, the mean does not
	for i := range c.Data {
		c.Data[i] = 1.0
	}
	for i := 0; i < len(c.Data); i += 40 {
		c.Data[i] = 100.0
	}
	coords := DeprojectFlat(c, 0.0, 0.0, 30.0, 0.0)

	opts := NewProfileOptions()
	opts.Statistic = StatPercentiles
	_, med, _, err := RadialProfile(c, coords, opts)
	if err != nil {
		t.Fatalf("RadialProfile failed: %v", err)
	}

	opts.Statistic = StatMean
	_, mean, _, err := RadialProfile(c, coords, opts)
	if err != nil {
		t.Fatalf("RadialProfile failed: %v", err)
	}

	sawOutlierBin := false
	for i := range med {
		if math.IsNaN(med[i]) || math.IsNaN(mean[i]) {
			continue
		}
		if math.Abs(med[i]-1.0) > 1e-9 {
			t.Errorf("Bin %d: expected the median to resist outliers, got %f", i, med[i])
		}
		if mean[i] > med[i]+1e-9 {
			sawOutlierBin = true
		}
	}
	if !sawOutlierBin {
		t.Error("Expected at least one bin where the mean exceeds the median")
	}
}
