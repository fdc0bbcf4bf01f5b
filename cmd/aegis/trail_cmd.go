package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func runTrailFetch(args []string) int {
	fs := flag.NewFlagSet("trail fetch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var runID string
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&runID, "run", "", "run id")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if runID == "" {
		fmt.Fprintln(os.Stderr, "trail fetch requires --run")
		return 1
	}

	trail, err := newClient(addr, apiKey).FetchTrail(context.Background(), runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch trail: %v\n", err)
		return 1
	}
	return emitJSON(outPath, trail)
}

func runTrailVerify(args []string) int {
	fs := flag.NewFlagSet("trail verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var runID string
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&runID, "run", "", "run id")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if runID == "" {
		fmt.Fprintln(os.Stderr, "trail verify requires --run")
		return 1
	}

	verification, err := newClient(addr, apiKey).VerifyRun(context.Background(), runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify trail: %v\n", err)
		return 1
	}
	if code := emitJSON(outPath, verification); code != 0 {
		return code
	}
	if !verification.OK {
		return 1
	}
	return 0
}
