package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"txmconvert/pkg/metadata"
	"txmconvert/pkg/olefile"
)

func main() {
	file := flag.String("file", "", "Scan container to read (.txrm, .txm or .rcp)")
	out := flag.String("out", "console", "Output: console, txt (tab-delimited) or csv")
	revision := flag.Int("revision", 2042, "Detector revision for recipe files: 2042 or 2048")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(1)
	}

	format, err := metadata.DetectFormat(*file)
	if err != nil {
		log.Fatalf("Unrecognized container: %v", err)
	}
	if format.Family() == metadata.FamilyRecipe && *revision == 2048 {
		format = metadata.FormatRecipeRev2048
	}

	src, err := olefile.Open(*file)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *file, err)
	}
	defer src.Close()

	name := filepath.Base(*file)
	var records []*metadata.Record
	if format.Family() == metadata.FamilyVersa {
		record, err := metadata.ReadVersa(src, format, name)
		if err != nil {
			log.Fatalf("Failed to read scan parameters: %v", err)
		}
		records = append(records, record)
	} else {
		records, err = metadata.ReadRecipe(src, format, name)
		if err != nil {
			log.Fatalf("Failed to read recipe parameters: %v", err)
		}
		fmt.Printf("Number of recipes:\t%d\n\n", len(records))
	}

	for _, record := range records {
		if err := emit(record, *file, *out); err != nil {
			log.Fatalf("Failed to write output: %v", err)
		}
	}
}

// emit writes one record to the console or to a file next to the
// container, named after the container and, for recipes, the point.
func emit(record *metadata.Record, containerPath, out string) error {
	if out == "console" {
		record.Fprint(os.Stdout)
		fmt.Println()
		return nil
	}

	recipeName := ""
	if v, ok := record.Get("recipe"); ok {
		recipeName = fmt.Sprintf("%v", v)
	}
	path := filepath.Join(filepath.Dir(containerPath), metadata.OutputName(containerPath, recipeName, out))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch out {
	case "txt":
		err = record.WriteTab(f)
	case "csv":
		err = record.WriteCSV(f)
	default:
		err = fmt.Errorf("unknown output mode %q", out)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", path)
	return f.Close()
}
