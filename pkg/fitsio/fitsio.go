// Package fitsio adapts FITS files to the in-memory cube. It extracts
// the header scalars the axis reader consumes and reads the brightness
// array with singleton trailing axes squeezed, keeping the file format
// out of the numerical packages.
package fitsio

import (
	"fmt"
	"os"

	"github.com/siravan/fits"

	"github.com/krschwarz/imgcube/internal/models"
	"github.com/krschwarz/imgcube/pkg/cube"
)

// Load reads the primary HDU of the FITS file at path into a cube.
func Load(path string, opts cube.Options) (*cube.Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cube: %w", err)
	}
	defer f.Close()

	units, err := fits.Open(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FITS file: %w", err)
	}
	if len(units) == 0 || !units[0].HasImage() {
		return nil, fmt.Errorf("no image HDU in %s", path)
	}
	unit := units[0]

	hdr, err := ReadHeader(unit)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	data, err := readData(unit)
	if err != nil {
		return nil, err
	}
	return cube.New(hdr, data, opts)
}

// ReadHeader extracts the axis, beam and unit metadata from an HDU.
func ReadHeader(unit *fits.Unit) (*models.Header, error) {
	if len(unit.Naxis) < 3 {
		return nil, fmt.Errorf("cube needs at least 3 axes, got %d", len(unit.Naxis))
	}

	hdr := &models.Header{}
	for i, axis := range []*models.Axis{&hdr.X, &hdr.Y, &hdr.Spectral} {
		axis.N = unit.Naxis[i]
		axis.RefPix = floatKey(unit, fmt.Sprintf("CRPIX%d", i+1), 1.0)
		axis.RefVal = floatKey(unit, fmt.Sprintf("CRVAL%d", i+1), 0.0)
		axis.Delta = floatKey(unit, fmt.Sprintf("CDELT%d", i+1), 1.0)
	}
	for i := 3; i < len(unit.Naxis); i++ {
		if unit.Naxis[i] != 1 {
			return nil, fmt.Errorf("axis %d has length %d, expected a singleton", i+1, unit.Naxis[i])
		}
	}

	hdr.SpectralType = stringKey(unit, "CTYPE3", "")
	hdr.BUnit = stringKey(unit, "BUNIT", "")

	// Rest frequency fallback chain.
	if v, ok := lookupFloat(unit, "RESTFREQ"); ok {
		hdr.RestFreq = v
	} else if v, ok := lookupFloat(unit, "RESTFRQ"); ok {
		hdr.RestFreq = v
	} else {
		hdr.RestFreq = hdr.Spectral.RefVal
	}

	if bmaj, ok := lookupFloat(unit, "BMAJ"); ok {
		hdr.HasBeam = true
		hdr.Beam = models.Beam{
			Maj: bmaj * 3600.0,
			Min: floatKey(unit, "BMIN", bmaj) * 3600.0,
			PA:  floatKey(unit, "BPA", 0.0),
		}
	}
	return hdr, nil
}

// readData copies the brightness array into [v][y][x] order.
func readData(unit *fits.Unit) ([]float64, error) {
	nx, ny, nv := unit.Naxis[0], unit.Naxis[1], unit.Naxis[2]
	data := make([]float64, nv*ny*nx)

	idx := make([]int, len(unit.Naxis))
	for v := 0; v < nv; v++ {
		idx[2] = v
		for y := 0; y < ny; y++ {
			idx[1] = y
			for x := 0; x < nx; x++ {
				idx[0] = x
				data[(v*ny+y)*nx+x] = unit.FloatAt(idx...)
			}
		}
	}
	return data, nil
}

// lookupFloat fetches a numeric header value, tolerating integer
// encodings.
func lookupFloat(unit *fits.Unit, key string) (float64, bool) {
	v, ok := unit.Keys[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

func floatKey(unit *fits.Unit, key string, fallback float64) float64 {
	if v, ok := lookupFloat(unit, key); ok {
		return v
	}
	return fallback
}

func stringKey(unit *fits.Unit, key, fallback string) string {
	if v, ok := unit.Keys[key].(string); ok {
		return v
	}
	return fallback
}
