package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/krschwarz/imgcube/internal/models"
	"github.com/krschwarz/imgcube/pkg/config"
	"github.com/krschwarz/imgcube/pkg/cube"
	"github.com/krschwarz/imgcube/pkg/fitsio"
	"github.com/krschwarz/imgcube/pkg/geometry"
	"github.com/krschwarz/imgcube/pkg/rotation"
	"github.com/krschwarz/imgcube/pkg/surface"
)

func main() {
	// Parse command line arguments
	cubePath := flag.String("cube", "", "Input FITS spectral cube")
	configPath := flag.String("config", "imgcube.yaml", "Analysis configuration file")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration file and exit")
	outputName := flag.String("output", "rotation_profile.csv", "Output CSV filename")
	surfaceName := flag.String("surface-output", "", "Optional CSV filename for the extracted emission surface")
	method := flag.String("method", "", "Rotation solver override: dv or gp")
	fitMass := flag.Bool("fit-mstar", true, "Fit the stellar mass to the recovered profile")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	// Validate inputs
	if *cubePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *method != "" {
		cfg.Rotation.Method = *method
	}

	fmt.Println("================================")
	fmt.Println("ROTATION PROFILES AND EMISSION SURFACES FROM PROTOPLANETARY DISK SPECTRAL CUBES")
	fmt.Println("================================")

	// Load the cube
	fmt.Printf("Loading cube: %s\n", *cubePath)
	c, err := fitsio.Load(*cubePath, cube.Options{
		Kelvin:   cfg.Cube.Kelvin,
		Absolute: cfg.Cube.Absolute,
	})
	if err != nil {
		log.Fatalf("Failed to load cube: %v", err)
	}
	fmt.Printf("Cube dimensions: %d channels x %d x %d pixels\n", c.NV, c.NY, c.NX)
	fmt.Printf("Beam: %.3f\" x %.3f\" at %.1f deg\n", c.Beam.Maj, c.Beam.Min, c.Beam.PA)

	// Assemble the disk geometry
	nearest, err := models.ParseSide(cfg.Disk.Nearest)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	disk := &models.DiskGeometry{
		X0:      cfg.Disk.X0,
		Y0:      cfg.Disk.Y0,
		Inc:     cfg.Disk.Inc,
		PA:      cfg.Disk.PA,
		Dist:    cfg.Disk.Dist,
		MStar:   cfg.Disk.MStar,
		Nearest: nearest,
	}
	if err := disk.Validate(); err != nil {
		log.Fatalf("Invalid disk geometry: %v", err)
	}

	// Set up the emission surface
	surf, err := buildSurface(c, disk, cfg)
	if err != nil {
		log.Fatalf("Failed to set up the emission surface: %v", err)
	}
	if surf != nil && *surfaceName != "" {
		if err := writeSurfaceCSV(*surfaceName, surf); err != nil {
			log.Fatalf("Failed to write surface table: %v", err)
		}
		fmt.Printf("Emission surface saved to: %s\n", *surfaceName)
	}

	// Run the radial sweep
	opts := rotation.NewProfileOptions()
	opts.Method = rotation.Method(cfg.Rotation.Method)
	opts.Resample = cfg.Rotation.Resample
	opts.BeamStride = cfg.Rotation.BeamStride
	opts.Workers = cfg.Rotation.Workers
	opts.GP.NWalkers = cfg.Rotation.NWalkers
	opts.GP.NBurnin = cfg.Rotation.NBurnin
	opts.GP.NSteps = cfg.Rotation.NSteps
	opts.GP.Seed = cfg.Rotation.Seed

	fmt.Printf("Solving rotation profile (%s method) with %d workers...\n",
		cfg.Rotation.Method, cfg.Rotation.Workers)
	startTime := time.Now()
	var geomSurf geometry.Surface
	if surf != nil {
		geomSurf = surf
	}
	bins, err := rotation.Profile(c, disk, geomSurf, opts)
	if err != nil {
		log.Fatalf("Rotation profile failed: %v", err)
	}
	fmt.Printf("Sweep completed in %.2f seconds (%d bins)\n",
		time.Since(startTime).Seconds(), len(bins))

	if err := writeProfileCSV(*outputName, bins); err != nil {
		log.Fatalf("Failed to write rotation profile: %v", err)
	}
	fmt.Printf("Rotation profile saved to: %s\n", *outputName)

	// Fit the stellar mass against the recovered profile
	if *fitMass {
		rpnts := make([]float64, len(bins))
		vrot := make([]float64, len(bins))
		dvrot := make([]float64, len(bins))
		for i, b := range bins {
			rpnts[i] = b.R
			vrot[i] = b.VRot
			dvrot[i] = b.DVRot
		}
		fit, err := rotation.FitStellarMass(rpnts, vrot, dvrot, disk, cfg.Rotation.ClipBeams, c.Beam.Maj)
		if err != nil {
			log.Printf("Warning: stellar mass fit failed: %v", err)
		} else {
			fmt.Printf("\nKeplerian fit over %d bins:\n", fit.NUsed)
			fmt.Printf("  Mstar = %.3f +/- %.3f Msun\n", fit.Value, fit.Stderr)
		}
	}
}

// buildSurface instantiates the configured emission surface; a nil
// return selects the thin-disk analysis.
func buildSurface(c *cube.Cube, disk *models.DiskGeometry, cfg *config.Config) (*surface.Model, error) {
	m := surface.NewModel()
	switch cfg.Surface.Kind {
	case "", "none":
		return nil, nil
	case "powerlaw", "conical":
		if err := m.SetAnalytical(cfg.Surface.Kind, cfg.Surface.Params); err != nil {
			return nil, err
		}
		return m, nil
	case "data":
	default:
		return nil, fmt.Errorf("unknown surface kind %q", cfg.Surface.Kind)
	}

	fmt.Println("Extracting the emission surface from the channel maps...")
	res, err := surface.Extract(c, disk, surface.ExtractOptions{
		NSigma: cfg.Surface.NSigma,
		Method: surface.Reducer(cfg.Surface.Method),
	})
	if err != nil {
		return nil, err
	}
	fmt.Printf("Extracted %d ridge detections, nearest side: %s\n",
		len(res.Points), res.Nearest)
	if err := m.SetTable(res.R, res.Z, res.DZ); err != nil {
		return nil, err
	}
	return m, nil
}

// writeProfileCSV writes one row per radial bin. Bins the solver could
// not constrain carry NaN and are written as empty fields.
func writeProfileCSV(path string, bins []rotation.BinResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"r_arcsec", "v_rot_ms", "dv_rot_ms", "v_ref_ms", "n_spectra"}); err != nil {
		return err
	}
	for _, b := range bins {
		row := []string{
			fmt.Sprintf("%.6f", b.R),
			csvFloat(b.VRot),
			csvFloat(b.DVRot),
			csvFloat(b.VRef),
			fmt.Sprintf("%d", b.NSpectra),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

// writeSurfaceCSV writes the reduced surface table.
func writeSurfaceCSV(path string, m *surface.Model) error {
	r, z, dz := m.Table()
	if r == nil {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"r_arcsec", "z_arcsec", "dz_arcsec"}); err != nil {
		return err
	}
	for i := range r {
		unc := ""
		if dz != nil {
			unc = csvFloat(dz[i])
		}
		row := []string{
			fmt.Sprintf("%.6f", r[i]),
			fmt.Sprintf("%.6f", z[i]),
			unc,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}

func csvFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return fmt.Sprintf("%.6f", v)
}
