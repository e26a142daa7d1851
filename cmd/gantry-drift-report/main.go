// gantry-drift-report summarizes a persisted session record: the mesh
// drift between the two hot-phase snapshots and the frame expansion
// coefficient fitted over the hot measurement samples.
//
// Usage:
//
//	gantry-drift-report [-sensor frame] [-json] session.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	gderr "gantry-drift/pkg/errors"
	"gantry-drift/pkg/report"
)

type summary struct {
	Session   string               `json:"session"`
	User      string               `json:"user"`
	Printer   string               `json:"printer"`
	Samples   int                  `json:"samples"`
	Meshes    int                  `json:"meshes"`
	Expansion *report.ExpansionFit `json:"expansion,omitempty"`
	MeshDelta *report.DeltaStats   `json:"mesh_delta,omitempty"`
}

func main() {
	os.Exit(run())
}

func run() int {
	sensorKey := flag.String("sensor", "frame", "Sensor key for the expansion fit")
	asJSON := flag.Bool("json", false, "Emit the summary as JSON")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: gantry-drift-report [options] session.json\n")
		flag.Usage()
		return gderr.ExitConfig
	}
	path := flag.Arg(0)

	rec, err := report.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return gderr.ExitCode(err)
	}

	out := summary{
		Session: path,
		User:    rec.Metadata.User.ID,
		Printer: rec.Metadata.User.Printer,
		Samples: len(rec.Samples),
		Meshes:  len(rec.Meshes),
	}

	if fit, err := report.ExpansionCoefficient(rec, *sensorKey); err == nil {
		out.Expansion = &fit
	} else {
		fmt.Fprintf(os.Stderr, "Warning: no expansion fit: %v\n", err)
	}

	if len(rec.Meshes) >= 2 {
		delta, err := report.MeshDelta(rec.Meshes[0], rec.Meshes[len(rec.Meshes)-1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: no mesh delta: %v\n", err)
		} else {
			stats := report.Stats(delta)
			out.MeshDelta = &stats
		}
	}

	if *asJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return gderr.ExitAbort
		}
		fmt.Println(string(data))
		return gderr.ExitOK
	}

	fmt.Printf("session:  %s\n", out.Session)
	fmt.Printf("user:     %s (%s)\n", out.User, out.Printer)
	fmt.Printf("samples:  %d\n", out.Samples)
	fmt.Printf("meshes:   %d\n", out.Meshes)
	if out.Expansion != nil {
		fmt.Printf("expansion: %.6f mm/degC over %d points (sensor %q)\n",
			out.Expansion.Slope, out.Expansion.Points, *sensorKey)
	}
	if out.MeshDelta != nil {
		fmt.Printf("mesh delta: min %.4f max %.4f mean %.4f mm\n",
			out.MeshDelta.Min, out.MeshDelta.Max, out.MeshDelta.Mean)
	}
	return gderr.ExitOK
}
