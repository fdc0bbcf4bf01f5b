package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

func runTopicEntries(args []string) int {
	fs := flag.NewFlagSet("topic entries", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var topic string
	var from int64
	var to int64
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&topic, "topic", "", "topic name")
	fs.Int64Var(&from, "from", 0, "first sequence number")
	fs.Int64Var(&to, "to", 0, "last sequence number (0 = chain head)")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if topic == "" {
		fmt.Fprintln(os.Stderr, "topic entries requires --topic")
		return 1
	}

	entries, err := newClient(addr, apiKey).TopicEntries(context.Background(), topic, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch entries: %v\n", err)
		return 1
	}
	return emitJSON(outPath, entries)
}

func runTopicCheckpoint(args []string) int {
	fs := flag.NewFlagSet("topic checkpoint", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var topic string
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&topic, "topic", "", "topic name")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if topic == "" {
		fmt.Fprintln(os.Stderr, "topic checkpoint requires --topic")
		return 1
	}

	cp, err := newClient(addr, apiKey).TopicCheckpoint(context.Background(), topic)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch checkpoint: %v\n", err)
		return 1
	}
	return emitJSON(outPath, cp)
}

func runTopicProof(args []string) int {
	fs := flag.NewFlagSet("topic proof", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var topic string
	var seq int64
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&topic, "topic", "", "topic name")
	fs.Int64Var(&seq, "seq", 0, "sequence number to prove")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if topic == "" || seq <= 0 {
		fmt.Fprintln(os.Stderr, "topic proof requires --topic and --seq")
		return 1
	}

	proof, err := newClient(addr, apiKey).TopicProof(context.Background(), topic, seq)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch proof: %v\n", err)
		return 1
	}
	return emitJSON(outPath, proof)
}

func runTopicVerify(args []string) int {
	fs := flag.NewFlagSet("topic verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var addr string
	var apiKey string
	var topic string
	var from int64
	var to int64
	var outPath string

	addClientFlags(fs, &addr, &apiKey)
	fs.StringVar(&topic, "topic", "", "topic name")
	fs.Int64Var(&from, "from", 0, "first sequence number (0 = whole chain)")
	fs.Int64Var(&to, "to", 0, "last sequence number (0 = chain head)")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if topic == "" {
		fmt.Fprintln(os.Stderr, "topic verify requires --topic")
		return 1
	}

	verification, err := newClient(addr, apiKey).VerifyTopic(context.Background(), topic, from, to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "verify topic: %v\n", err)
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
