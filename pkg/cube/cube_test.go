package cube

import (
	"math"
	"strings"
	"testing"

	"github.com/krschwarz/imgcube/internal/models"
)

// testHeader builds a header with relative position axes centred on the
// grid and a velocity axis in m/s.
func testHeader(nx, ny, nv int, dpixDeg, v0, dv float64) *models.Header {
	hdr := &models.Header{}
	hdr.X = models.Axis{N: nx, RefPix: float64(nx+2) / 2.0, RefVal: 45.0, Delta: dpixDeg}
	hdr.Y = models.Axis{N: ny, RefPix: float64(ny+2) / 2.0, RefVal: -23.0, Delta: dpixDeg}
	hdr.Spectral = models.Axis{N: nv, RefPix: 1.0, RefVal: v0, Delta: dv}
	hdr.SpectralType = "VELO-LSR"
	hdr.BUnit = "K"
	hdr.Beam = models.Beam{Maj: 0.2, Min: 0.15, PA: 10.0}
	hdr.HasBeam = true
	return hdr
}

// TestPositionAxis verifies the pixel-centre convention of the relative
// position axes.
func TestPositionAxis(t *testing.T) {
	hdr := testHeader(4, 4, 1, 0.1/3600.0, 0.0, 100.0)
	c, err := New(hdr, make([]float64, 16), Options{})
	if err != nil {
		t.Fatalf("Failed to build cube: %v", err)
	}

	// With CRPIX at (N+2)/2 the axis is symmetric about zero
	expected := []float64{-0.15, -0.05, 0.05, 0.15}
	for i, want := range expected {
		if math.Abs(c.Xaxis[i]-want) > 1e-9 {
			t.Errorf("Xaxis[%d]: expected %f, got %f", i, want, c.Xaxis[i])
		}
	}
	if math.Abs(c.DPix-0.1) > 1e-9 {
		t.Errorf("Expected pixel scale 0.1 arcsec, got %f", c.DPix)
	}
}

// TestPositionAxisAbsolute verifies that absolute coordinates keep the
// header reference value and stretch the x spacing by cos(dec).
func TestPositionAxisAbsolute(t *testing.T) {
	dx := 0.1 / 3600.0
	hdr := testHeader(4, 4, 1, dx, 0.0, 100.0)
	hdr.Y.RefVal = 60.0
	c, err := New(hdr, make([]float64, 16), Options{Absolute: true})
	if err != nil {
		t.Fatalf("Failed to build cube: %v", err)
	}

	// The reference pixel carries the reference value unchanged
	if math.Abs(c.Xaxis[2]-45.0) > 1e-9 {
		t.Errorf("Expected 45.0 deg at the reference pixel, got %f", c.Xaxis[2])
	}
	if math.Abs(c.Yaxis[2]-60.0) > 1e-9 {
		t.Errorf("Expected 60.0 deg at the reference pixel, got %f", c.Yaxis[2])
	}

	// At dec=60 the right-ascension spacing doubles
	if got := c.Xaxis[1] - c.Xaxis[0]; math.Abs(got-2.0*dx) > 1e-12 {
		t.Errorf("Expected x spacing %e deg, got %e", 2.0*dx, got)
	}
	if got := c.Yaxis[1] - c.Yaxis[0]; math.Abs(got-dx) > 1e-12 {
		t.Errorf("Expected y spacing %e deg, got %e", dx, got)
	}
}

// TestBeamsPerPix verifies the beam coverage of a single pixel.
func TestBeamsPerPix(t *testing.T) {
	hdr := testHeader(4, 4, 1, 0.1/3600.0, 0.0, 100.0)
	c, err := New(hdr, make([]float64, 16), Options{})
	if err != nil {
		t.Fatalf("Failed to build cube: %v", err)
	}

	// One pixel holds dpix^2 / beam-area beams
	want := c.DPix * c.DPix * 2.0 * math.Log(2.0) / (math.Pi * 0.2 * 0.15)
	if got := c.BeamsPerPix(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected %f beams per pixel, got %f", want, got)
	}
	if 1.0/c.BeamsPerPix() <= 1.0 {
		t.Error("Expected a resolved beam to span more than one pixel")
	}
}

// TestVelocityAxisFromFrequency verifies the Doppler conversion of a
// frequency axis.
func TestVelocityAxisFromFrequency(t *testing.T) {
	nu0 := 230.538e9
	df := -1e5

	hdr := testHeader(2, 2, 3, 0.1/3600.0, nu0, df)
	hdr.Spectral.RefPix = 1.0
	hdr.SpectralType = "FREQ"
	hdr.RestFreq = nu0

	c, err := New(hdr, make([]float64, 12), Options{})
	if err != nil {
		t.Fatalf("Failed to build cube: %v", err)
	}

	// The reference channel sits at the rest frequency, so zero velocity
	if math.Abs(c.Velax[0]) > 1e-6 {
		t.Errorf("Expected zero velocity at the rest frequency, got %f", c.Velax[0])
	}

	// Decreasing frequency means increasing (redshifted) velocity
	want := -df * SpeedOfLight / nu0
	if math.Abs(c.Velax[1]-want) > 1e-6 {
		t.Errorf("Expected %f m/s in channel 1, got %f", want, c.Velax[1])
	}
	if c.Velax[2] <= c.Velax[1] {
		t.Error("Expected an ascending velocity axis")
	}
}

// TestBeamFallback verifies that a missing beam degrades to a
// pixel-sized beam with a warning rather than an error.
func TestBeamFallback(t *testing.T) {
	hdr := testHeader(4, 4, 1, 0.1/3600.0, 0.0, 100.0)
	hdr.HasBeam = false

	var warned []string
	c, err := New(hdr, make([]float64, 16), Options{
		Warn: func(format string, args ...interface{}) {
			warned = append(warned, format)
		},
	})
	if err != nil {
		t.Fatalf("Failed to build cube: %v", err)
	}

	if len(warned) == 0 {
		t.Error("Expected a warning for the missing beam")
	} else if !strings.Contains(warned[0], "beam") {
		t.Errorf("Expected a beam warning, got %q", warned[0])
	}
	if c.Beam.Maj != c.DPix || c.Beam.Min != c.DPix {
		t.Errorf("Expected a pixel-sized beam, got %f x %f", c.Beam.Maj, c.Beam.Min)
	}
}

// TestCollapse verifies the three spectral reductions on a small cube.
func TestCollapse(t *testing.T) {
	hdr := testHeader(1, 1, 3, 0.1/3600.0, 0.0, 100.0)
	data := []float64{1.0, 3.0, 2.0}
	c, err := New(hdr, data, Options{})
	if err != nil {
		t.Fatalf("Failed to build cube: %v", err)
	}

	img, err := c.Collapse(CollapseMax)
	if err != nil {
		t.Fatalf("CollapseMax failed: %v", err)
	}
	if img[0] != 3.0 {
		t.Errorf("Expected maximum 3.0, got %f", img[0])
	}

	img, err = c.Collapse(CollapseSum)
	if err != nil {
		t.Fatalf("CollapseSum failed: %v", err)
	}
	if img[0] != 6.0 {
		t.Errorf("Expected sum 6.0, got %f", img[0])
	}

	// Trapezoid over a 100 m/s channel spacing
	img, err = c.Collapse(CollapseInt)
	if err != nil {
		t.Fatalf("CollapseInt failed: %v", err)
	}
	want := 0.5*(1.0+3.0)*100.0 + 0.5*(3.0+2.0)*100.0
	if math.Abs(img[0]-want) > 1e-9 {
		t.Errorf("Expected integral %f, got %f", want, img[0])
	}
}

// TestKelvinConversion verifies that Jy/beam data is scaled on load and
// Kelvin data is left alone.
func TestKelvinConversion(t *testing.T) {
	hdr := testHeader(2, 2, 1, 0.1/3600.0, 0.0, 100.0)
	hdr.BUnit = "Jy/beam"
	hdr.RestFreq = 230.538e9

	c, err := New(hdr, []float64{1.0, 1.0, 1.0, 1.0}, Options{Kelvin: true})
	if err != nil {
		t.Fatalf("Failed to build cube: %v", err)
	}
	if c.JyToK <= 1.0 {
		t.Errorf("Expected a Jy/beam to K factor above unity, got %e", c.JyToK)
	}
	if math.Abs(c.At(0, 0, 0)-c.JyToK) > 1e-9*c.JyToK {
		t.Errorf("Expected data scaled by %e, got %e", c.JyToK, c.At(0, 0, 0))
	}

	// Kelvin data must pass through untouched
	hdr = testHeader(2, 2, 1, 0.1/3600.0, 0.0, 100.0)
	c, err = New(hdr, []float64{1.0, 1.0, 1.0, 1.0}, Options{Kelvin: true})
	if err != nil {
		t.Fatalf("Failed to build cube: %v", err)
	}
	if c.JyToK != 1.0 || c.At(0, 0, 0) != 1.0 {
		t.Errorf("Expected Kelvin data untouched, got factor %e value %e", c.JyToK, c.At(0, 0, 0))
	}
}

// TestNewValidation verifies the shape checks.
func TestNewValidation(t *testing.T) {
	hdr := testHeader(4, 4, 2, 0.1/3600.0, 0.0, 100.0)
	if _, err := New(hdr, make([]float64, 7), Options{}); err == nil {
		t.Error("Expected error for mismatched data length")
	}

	hdr.X.N = 0
	if _, err := New(hdr, nil, Options{}); err == nil {
		t.Error("Expected error for a zero-length axis")
	}
}
