package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ritwikmohanty/aegis-audit-sub001/pkg/client"
)

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var contractRef string
	var submitter string
	var wait bool
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&contractRef, "contract", "", "contract reference to analyze")
	fs.StringVar(&submitter, "submitter", "", "submitter identity")
	fs.BoolVar(&wait, "wait", false, "wait for the run to reach a terminal state")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if contractRef == "" {
		fmt.Fprintln(os.Stderr, "submit requires --contract")
		return 1
	}

	c := newClient(addr, apiKey)
	ctx := context.Background()

	run, err := c.SubmitRun(ctx, client.SubmitRunInput{ContractRef: contractRef, Submitter: submitter})
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit run: %v\n", err)
		return 1
	}
	if wait {
		run, err = c.WaitTerminal(ctx, run.RunID, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wait for run: %v\n", err)
			return 1
		}
	}
	if code := emitJSON(outPath, run); code != 0 {
		return code
	}
	if wait && run.Status == client.StatusFailed {
		return 1
	}
	return 0
}

func runGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
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
		fmt.Fprintln(os.Stderr, "get requires --run")
		return 1
	}

	run, err := newClient(addr, apiKey).GetRun(context.Background(), runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "get run: %v\n", err)
		return 1
	}
	return emitJSON(outPath, run)
}

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var limit int
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.IntVar(&limit, "limit", 50, "maximum runs to list")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	runs, err := newClient(addr, apiKey).ListRuns(context.Background(), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list runs: %v\n", err)
		return 1
	}
	return emitJSON(outPath, runs)
}

func runCancel(args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var runID string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&runID, "run", "", "run id")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if runID == "" {
		fmt.Fprintln(os.Stderr, "cancel requires --run")
		return 1
	}

	cancelled, err := newClient(addr, apiKey).CancelRun(context.Background(), runID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cancel run: %v\n", err)
		return 1
	}
	if !cancelled {
		fmt.Fprintln(os.Stderr, "run already terminal")
		return 1
	}
	fmt.Println("cancellation requested")
	return 0
}

func runArtifact(args []string) int {
	fs := flag.NewFlagSet("artifact", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var runID string
	var stage string
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&runID, "run", "", "run id")
	fs.StringVar(&stage, "stage", "", "stage name")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if runID == "" || stage == "" {
		fmt.Fprintln(os.Stderr, "artifact requires --run and --stage")
		return 1
	}

	body, err := newClient(addr, apiKey).Artifact(context.Background(), runID, stage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch artifact: %v\n", err)
		return 1
	}
	if err := writeOutput(outPath, body); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}
