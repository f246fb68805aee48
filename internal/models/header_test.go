package models

import (
	"testing"
)

// TestBeamValidate verifies the ordering and positivity checks on the beam.
func TestBeamValidate(t *testing.T) {
	good := Beam{Maj: 0.12, Min: 0.10, PA: 35.0}
	if err := good.Validate(); err != nil {
		t.Errorf("Expected valid beam, got error: %v", err)
	}

	// Minor axis larger than major axis
	swapped := Beam{Maj: 0.10, Min: 0.12}
	if err := swapped.Validate(); err == nil {
		t.Error("Expected error for minor axis larger than major axis")
	}

	negative := Beam{Maj: -0.1, Min: -0.2}
	if err := negative.Validate(); err == nil {
		t.Error("Expected error for negative beam axes")
	}
}

// TestParseSide verifies the configuration strings for the nearest side.
func TestParseSide(t *testing.T) {
	cases := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"north", North, true},
		{"South", South, true},
		{"NORTH", North, true},
		{"east", North, false},
		{"", North, false},
	}
	for _, c := range cases {
		got, err := ParseSide(c.in)
		if c.ok && err != nil {
			t.Errorf("ParseSide(%q): unexpected error: %v", c.in, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseSide(%q): expected error", c.in)
		}
		if c.ok && got != c.want {
			t.Errorf("ParseSide(%q): expected %v, got %v", c.in, c.want, got)
		}
	}
}

// TestDiskGeometryValidate verifies the parameter range checks.
func TestDiskGeometryValidate(t *testing.T) {
	good := DiskGeometry{Inc: 45.0, Dist: 100.0, MStar: 1.0}
	if err := good.Validate(); err != nil {
		t.Errorf("Expected valid geometry, got error: %v", err)
	}

	// Face-on disks have no line-of-sight rotation to recover
	faceOn := good
	faceOn.Inc = 0.0
	if err := faceOn.Validate(); err == nil {
		t.Error("Expected error for a face-on disk")
	}

	over := good
	over.Inc = 95.0
	if err := over.Validate(); err == nil {
		t.Error("Expected error for inclination above 90 degrees")
	}

	noDist := good
	noDist.Dist = 0.0
	if err := noDist.Validate(); err == nil {
		t.Error("Expected error for zero distance")
	}

	noMass := good
	noMass.MStar = -0.5
	if err := noMass.Validate(); err == nil {
		t.Error("Expected error for negative stellar mass")
	}
}
