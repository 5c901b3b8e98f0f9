// Command plan-plot renders recorded lateral plans from a recording database.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/lateral.plan/internal/recorder"
	"github.com/banshee-data/lateral.plan/internal/report"
	"github.com/banshee-data/lateral.plan/internal/security"
)

var (
	dbPath = flag.String("db", "lateral.db", "Recording database")
	runID  = flag.String("run", "", "Run ID to render (default: most recent run)")
	outDir = flag.String("out", ".", "Output directory, within the working or temp directory")
	html   = flag.Bool("html", true, "Write an interactive HTML page")
	png    = flag.Bool("png", true, "Write PNG plots")
	list   = flag.Bool("list", false, "List recorded runs and exit")
)

func main() {
	flag.Parse()

	rec, err := recorder.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open recording: %v", err)
	}
	defer rec.Close()

	runs, err := rec.Runs()
	if err != nil {
		log.Fatalf("failed to list runs: %v", err)
	}
	if *list {
		for _, r := range runs {
			fmt.Printf("%s\t%s\t%s\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Source)
		}
		return
	}
	if len(runs) == 0 {
		log.Fatal("no runs recorded")
	}

	run := runs[0]
	if *runID != "" {
		found := false
		for _, r := range runs {
			if r.ID == *runID {
				run, found = r, true
				break
			}
		}
		if !found {
			log.Fatalf("run %q not found", *runID)
		}
	}

	rows, err := rec.Plans(run.ID)
	if err != nil {
		log.Fatalf("failed to read plans: %v", err)
	}
	tr := report.FromPlans(rows)
	title := fmt.Sprintf("%s (%s)", run.Source, run.ID)

	allowed, err := security.ExportDirs()
	if err != nil {
		log.Fatal(err)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	if *png {
		base, err := security.ExportPath(*outDir, run.ID, allowed)
		if err != nil {
			log.Fatal(err)
		}
		paths, err := report.SavePNGs(tr, title, *outDir, security.SanitizeFilename(run.ID))
		if err != nil {
			log.Fatalf("failed to plot %s: %v", base, err)
		}
		for _, p := range paths {
			log.Printf("wrote %s", p)
		}
	}

	if *html {
		path, err := security.ExportPath(*outDir, run.ID+".html", allowed)
		if err != nil {
			log.Fatal(err)
		}
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("failed to create %s: %v", path, err)
		}
		if err := report.WriteHTML(f, tr, title); err != nil {
			f.Close()
			log.Fatalf("failed to render %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("failed to write %s: %v", path, err)
		}
		log.Printf("wrote %s", path)
	}
}
