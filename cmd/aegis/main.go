package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ritwikmohanty/aegis-audit-sub001/pkg/client"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "run":
		return runLocal(args[2:])
	case "submit":
		return runSubmit(args[2:])
	case "get":
		return runGet(args[2:])
	case "list":
		return runList(args[2:])
	case "cancel":
		return runCancel(args[2:])
	case "artifact":
		return runArtifact(args[2:])
	case "trail":
		if len(args) >= 3 {
			switch args[2] {
			case "fetch":
				return runTrailFetch(args[3:])
			case "verify":
				return runTrailVerify(args[3:])
			}
		}
	case "topic":
		if len(args) >= 3 {
			switch args[2] {
			case "entries":
				return runTopicEntries(args[3:])
			case "checkpoint":
				return runTopicCheckpoint(args[3:])
			case "proof":
				return runTopicProof(args[3:])
			case "verify":
				return runTopicVerify(args[3:])
			}
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "aegis"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s run --contract <path> [--stages <yaml>] [--artifacts <dir>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s submit --contract <ref> [--submitter <id>] [--wait] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s get --run <id> [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s list [--limit <n>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s cancel --run <id>\n", name)
	fmt.Fprintf(os.Stderr, "  %s artifact --run <id> --stage <name> [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s trail fetch --run <id> [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s trail verify --run <id> [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s topic entries --topic <name> [--from <seq>] [--to <seq>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s topic checkpoint --topic <name> [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s topic proof --topic <name> --seq <n> [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s topic verify --topic <name> [--from <seq>] [--to <seq>] [--out <file>]\n", name)
	fmt.Fprintf(os.Stderr, "\nrun executes the pipeline in process; every other verb talks to a daemon.\n")
	fmt.Fprintf(os.Stderr, "The daemon address comes from --addr or AEGIS_ADDR; the API key from --api-key or AEGIS_API_KEY.\n")
}

func addClientFlags(fs *flag.FlagSet, addr, apiKey *string) {
	fs.StringVar(addr, "addr", defaultAddr(), "daemon base URL")
	fs.StringVar(apiKey, "api-key", os.Getenv("AEGIS_API_KEY"), "daemon API key")
}

func defaultAddr() string {
	if addr := os.Getenv("AEGIS_ADDR"); addr != "" {
		return addr
	}
	return "http://localhost:8080"
}

func newClient(addr, apiKey string) *client.Client {
	opts := []client.Option{}
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	return client.NewClient(addr, opts...)
}

func emitJSON(outPath string, v any) int {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return 1
	}
	if err := writeOutput(outPath, payload); err != nil {
		fmt.Fprintf(os.Stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}
