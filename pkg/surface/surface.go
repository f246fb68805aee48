// Package surface models the disk's vertical emission surface: the
// radius-to-height mapping needed by the raised-surface deprojection.
// The surface is either one of two analytical parametrizations or a
// sampled table extracted from the channel maps, with NaN repair and
// linear interpolation/extrapolation.
package surface

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// Kind tags the surface parametrization.
type Kind int

const (
	// KindNone marks an uninitialized surface
	KindNone Kind = iota
	// KindPowerLaw is z = z0 * r^q
	KindPowerLaw
	// KindConical is z = r*tan(psi) + z0
	KindConical
	// KindTable is a sampled (radius, height) table
	KindTable
)

// Model is a tagged-variant emission surface with a single HeightAt
// capability. It satisfies geometry.Surface.
type Model struct {
	kind Kind

	// power law
	z0, q float64

	// conical, psi in radians
	psi, off float64

	// table
	r, z, dz []float64
	pl       interp.PiecewiseLinear
}

// NewModel returns an empty, undefined surface.
func NewModel() *Model { return &Model{} }

// Defined reports whether any height information has been set.
func (m *Model) Defined() bool { return m.kind != KindNone }

// Kind returns the active parametrization.
func (m *Model) Kind() Kind { return m.kind }

// SetAnalytical sets the surface to one of the analytical forms.
// "powerlaw" requires exactly two parameters [z0, q]; "conical" takes
// one or two parameters [psi in degrees, optional z0 offset].
func (m *Model) SetAnalytical(kind string, params []float64) error {
	switch kind {
	case "powerlaw":
		if len(params) != 2 {
			return fmt.Errorf("powerlaw surface requires [z0, q], got %d parameters", len(params))
		}
		return m.SetPowerLaw(params[0], params[1])
	case "conical":
		if len(params) < 1 || len(params) > 2 {
			return fmt.Errorf("conical surface requires [psi, (z0)], got %d parameters", len(params))
		}
		off := 0.0
		if len(params) == 2 {
			off = params[1]
		}
		return m.SetConical(params[0], off)
	}
	return fmt.Errorf("surface kind must be 'powerlaw' or 'conical', got %q", kind)
}

// SetPowerLaw sets z = z0 * r^q with r in [arcsec].
func (m *Model) SetPowerLaw(z0, q float64) error {
	m.kind = KindPowerLaw
	m.z0, m.q = z0, q
	return nil
}

// SetConical sets z = r*tan(psi) + z0 with psi in [degrees].
func (m *Model) SetConical(psiDeg, z0 float64) error {
	m.kind = KindConical
	m.psi = psiDeg * math.Pi / 180.0
	m.off = z0
	return nil
}

// SetTable sets a sampled surface. The radii must be sorted ascending;
// runs of duplicated radii are averaged into a single knot. Missing
// leading heights are repaired by linearly connecting (0, 0) to the
// first finite sample and a missing trailing run is extrapolated to
// zero; interior NaN samples are dropped.
func (m *Model) SetTable(r, z, dz []float64) error {
	if len(r) != len(z) {
		return fmt.Errorf("mismatched table: %d radii, %d heights", len(r), len(z))
	}
	if dz != nil && len(dz) != len(r) {
		return fmt.Errorf("mismatched table: %d radii, %d uncertainties", len(r), len(dz))
	}
	if len(r) < 2 {
		return fmt.Errorf("need at least 2 surface samples, got %d", len(r))
	}
	for i := 1; i < len(r); i++ {
		if r[i] < r[i-1] {
			return fmt.Errorf("surface radii must be sorted ascending")
		}
	}

	rr, zz, zdz := mergeDuplicateRadii(r, z, dz)
	if len(rr) < 2 {
		return fmt.Errorf("need at least 2 distinct surface radii, got %d", len(rr))
	}

	repairTable(rr, zz)

	// Drop any interior NaN that survived the boundary repair.
	var cr, cz, cdz []float64
	for i := range rr {
		if math.IsNaN(zz[i]) {
			continue
		}
		cr = append(cr, rr[i])
		cz = append(cz, zz[i])
		if zdz != nil {
			cdz = append(cdz, zdz[i])
		}
	}
	if len(cr) < 2 {
		return fmt.Errorf("fewer than 2 finite surface samples after repair")
	}

	if err := m.pl.Fit(cr, cz); err != nil {
		return fmt.Errorf("failed to fit surface table: %w", err)
	}
	m.kind = KindTable
	m.r, m.z, m.dz = cr, cz, cdz
	return nil
}

// Table returns the sampled surface, or nils for analytical kinds.
func (m *Model) Table() (r, z, dz []float64) {
	return m.r, m.z, m.dz
}

// HeightAt returns the emission height at radius r [arcsec]. An
// undefined surface is flat. Tables extrapolate linearly beyond the
// sampled range using the boundary segment slopes.
func (m *Model) HeightAt(r float64) float64 {
	switch m.kind {
	case KindPowerLaw:
		if r == 0 {
			if m.q > 0 {
				return 0
			}
			return m.z0
		}
		return m.z0 * math.Pow(r, m.q)
	case KindConical:
		return r*math.Tan(m.psi) + m.off
	case KindTable:
		n := len(m.r)
		if r < m.r[0] {
			slope := (m.z[1] - m.z[0]) / (m.r[1] - m.r[0])
			return m.z[0] + slope*(r-m.r[0])
		}
		if r > m.r[n-1] {
			slope := (m.z[n-1] - m.z[n-2]) / (m.r[n-1] - m.r[n-2])
			return m.z[n-1] + slope*(r-m.r[n-1])
		}
		return m.pl.Predict(r)
	}
	return 0
}

// MaxRadius returns the outermost sampled radius, or 0 for analytical
// kinds which are defined everywhere.
func (m *Model) MaxRadius() float64 {
	if m.kind == KindTable {
		return m.r[len(m.r)-1]
	}
	return 0
}

// mergeDuplicateRadii collapses runs of equal radii into a single knot
// holding the mean of the finite heights (and uncertainties) of the
// run; an all-NaN run stays NaN. Ridge detections from mirrored image
// columns land on identical radii, so sorted detection tables commonly
// carry ties.
func mergeDuplicateRadii(r, z, dz []float64) (rr, zz, ddz []float64) {
	rr = make([]float64, 0, len(r))
	zz = make([]float64, 0, len(r))
	if dz != nil {
		ddz = make([]float64, 0, len(r))
	}
	for i := 0; i < len(r); {
		j := i + 1
		for j < len(r) && r[j] == r[i] {
			j++
		}
		rr = append(rr, r[i])
		zz = append(zz, meanFinite(z[i:j]))
		if dz != nil {
			ddz = append(ddz, meanFinite(dz[i:j]))
		}
		i = j
	}
	return rr, zz, ddz
}

// meanFinite is the mean of the finite samples, or NaN when there are
// none.
func meanFinite(x []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range x {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// repairTable fixes boundary NaNs in place: the leading run is replaced
// by the line through (0, 0) and the first finite sample, the trailing
// run is set to zero.
func repairTable(r, z []float64) {
	n := len(z)

	first := -1
	for i := 0; i < n; i++ {
		if !math.IsNaN(z[i]) {
			first = i
			break
		}
	}
	if first < 0 {
		return
	}
	if first > 0 && r[first] != 0 {
		slope := z[first] / r[first]
		for i := 0; i < first; i++ {
			z[i] = slope * r[i]
		}
	}

	last := n - 1
	for last >= 0 && math.IsNaN(z[last]) {
		last--
	}
	for i := last + 1; i < n; i++ {
		z[i] = 0.0
	}
}
