package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/freeeve/chessgraph/datagen/internal/table"
)

func main() {
	verify := flag.Bool("verify", false, "Only check footer integrity")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: dsinfo [-verify] <file.dset>...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	failed := false
	for _, path := range flag.Args() {
		var err error
		if *verify {
			err = table.Verify(path)
			if err == nil {
				fmt.Printf("%s: ok\n", path)
			}
		} else {
			err = describe(path)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func describe(path string) error {
	r, err := table.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	fmt.Printf("%s\n", path)
	fmt.Printf("  id:      %s\n", h.ID)
	fmt.Printf("  created: %s\n", h.CreatedAt().Format(time.RFC3339))
	fmt.Printf("  version: %d\n", h.Version)
	for _, c := range r.Columns() {
		fmt.Printf("  %-3s %-6s shape=(%d, %d) chunk_rows=%d\n", c.Name, c.DType, c.Rows, c.Width, c.ChunkRows)
	}
	return nil
}
