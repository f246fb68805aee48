package models

import (
	"fmt"
	"strings"
)

// Axis holds the world-coordinate description of one cube axis as read
// from a FITS header: the axis length and the linear pixel-to-world
// transform (reference pixel, reference value, pixel delta).
type Axis struct {
	// N is the number of pixels along the axis (NAXISn)
	N int

	// RefPix is the 1-based reference pixel (CRPIXn)
	RefPix float64

	// RefVal is the world coordinate at the reference pixel (CRVALn)
	RefVal float64

	// Delta is the world-coordinate increment per pixel (CDELTn)
	Delta float64
}

// Header carries the cube metadata consumed by the axis reader. It is a
// plain value extracted from the FITS header by pkg/fitsio so that the
// numerical packages never touch the file format directly.
type Header struct {
	// X and Y are the position axes in degrees (axes 1 and 2)
	X Axis
	Y Axis

	// Spectral is the third axis, either frequency [Hz] or velocity [m/s]
	Spectral Axis

	// SpectralType is the CTYPE3 string, used to decide whether the
	// spectral axis needs a frequency-to-velocity conversion
	SpectralType string

	// RestFreq is the line rest frequency in [Hz]. Readers should fall
	// back RESTFREQ -> RESTFRQ -> CRVAL3 when populating this
	RestFreq float64

	// BUnit is the brightness unit string, e.g. "Jy/beam" or "K"
	BUnit string

	// Beam is the synthesized beam, valid only when HasBeam is true
	Beam    Beam
	HasBeam bool
}

// SpectralIsFrequency reports whether the spectral axis is in frequency
// units and therefore needs the Doppler conversion to velocity.
func (h *Header) SpectralIsFrequency() bool {
	return strings.Contains(strings.ToLower(h.SpectralType), "freq")
}

// Beam describes the instrumental point-spread function: major and minor
// full-width-half-max in [arcsec] and the position angle in [degrees].
type Beam struct {
	Maj float64
	Min float64
	PA  float64
}

// Validate checks the beam shape invariant.
func (b Beam) Validate() error {
	if b.Maj < b.Min {
		return fmt.Errorf("beam major axis %.3e smaller than minor axis %.3e", b.Maj, b.Min)
	}
	if b.Min < 0 {
		return fmt.Errorf("beam minor axis must be non-negative, got %.3e", b.Min)
	}
	return nil
}

// Side identifies which side of the disk midplane is closer to the
// observer, resolving the sign ambiguity of the inferred emission height.
type Side int

const (
	// North means the projected rotation axis points to the north
	North Side = iota
	// South means it points to the south
	South
)

// ParseSide converts a configuration string to a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "north":
		return North, nil
	case "south":
		return South, nil
	}
	return North, fmt.Errorf("nearest side must be 'north' or 'south', got %q", s)
}

func (s Side) String() string {
	if s == South {
		return "south"
	}
	return "north"
}

// DiskGeometry holds the source geometry used for every deprojection:
// centre offset, viewing angles, distance and the central stellar mass.
type DiskGeometry struct {
	// X0, Y0 is the disk centre offset from the image centre in [arcsec]
	X0 float64
	Y0 float64

	// Inc is the inclination in [degrees], 0 = face-on
	Inc float64

	// PA is the position angle of the major axis in [degrees], measured
	// from the eastern sky axis
	PA float64

	// Dist is the source distance in [parsec]
	Dist float64

	// MStar is the stellar mass in [solar masses]. Fitting routines may
	// update it in place
	MStar float64

	// Nearest is the side of the midplane closer to the observer
	Nearest Side
}

// Validate enforces the parameter ranges required before any deprojection
// may run. Inclination is kept strictly inside (0, 90] since a face-on
// disk has no line-of-sight rotation to recover.
func (g *DiskGeometry) Validate() error {
	if g.Inc <= 0 || g.Inc > 90 {
		return fmt.Errorf("inclination must be in (0, 90] degrees, got %.3f", g.Inc)
	}
	if g.Dist <= 0 {
		return fmt.Errorf("distance must be positive, got %.3f pc", g.Dist)
	}
	if g.MStar <= 0 {
		return fmt.Errorf("stellar mass must be positive, got %.3f Msun", g.MStar)
	}
	return nil
}
