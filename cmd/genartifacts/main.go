package main

import (
	"flag"
	"fmt"
	"os"

	"dropout-risk/internal/sample"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	var (
		outDir    = flag.String("out", "model", "Directory to write the artifacts to")
		seed      = flag.Int64("seed", 42, "Seed for the weights of columns without a known direction")
		jitter    = flag.Float64("jitter", 0.05, "Max absolute weight for those columns")
		intercept = flag.Float64("intercept", -1.0, "Logistic regression intercept")
		version   = flag.String("version", "", "Model version recorded in the metadata (default sample-YYYYMMDD)")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	opts := sample.Options{
		Seed:      *seed,
		Jitter:    *jitter,
		Intercept: *intercept,
		Version:   *version,
	}

	paths, err := sample.Write(*outDir, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write sample artifacts")
	}

	fmt.Printf("Generated sample artifacts in %s\n", *outDir)
	fmt.Printf("  Model:    %s\n", paths.Model)
	fmt.Printf("  Scaler:   %s\n", paths.Scaler)
	fmt.Printf("  Metadata: %s\n", paths.Metadata)
}
