// streamsyncctl is the control CLI for the stream sync engine's
// persisted cache.
package main

import (
	"flag"
	"fmt"
	"os"

	"streamsync/internal/config"
	"streamsync/internal/model"
	"streamsync/internal/persist"
	"streamsync/internal/verify"
)

var (
	configPath = flag.String("config", "", "path to config file")
	dbPath     = flag.String("db", "", "path to cache database (overrides config)")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)

	switch cmd {
	case "status":
		cmdStatus()
	case "streams":
		cmdStreams()
	case "show":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: streamsyncctl show <stream-id>")
			os.Exit(1)
		}
		cmdShow(flag.Arg(1))
	case "verify":
		cmdVerify(flag.Args()[1:])
	case "manifest":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: streamsyncctl manifest <manifest.json>")
			os.Exit(1)
		}
		cmdManifest(flag.Arg(1))
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `streamsyncctl - Control utility for the stream sync cache

Usage: streamsyncctl [options] <command> [args]

Commands:
  status               Show cache statistics
  streams              List cached streams
  show <stream-id>     Show one stream's cached state
  verify [stream-id]   Verify cache integrity (all streams by default)
  manifest <file>      Validate a sync manifest
  help                 Show this help message

Options:
  -config <path>  Path to config file
  -db <path>      Cache database path (overrides config)`)
}

func loadConfig() *config.Config {
	if *configPath == "" {
		return config.DefaultConfig()
	}
	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func cacheDBPath() string {
	if *dbPath != "" {
		return *dbPath
	}
	return loadConfig().Storage.Path
}

func openStore() *persist.Store {
	path := cacheDBPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "No cache database at %s\n", path)
		os.Exit(1)
	}
	store, err := persist.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	return store
}

func cmdStatus() {
	store := openStore()
	defer store.Close()

	stats, err := store.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading cache: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== Stream Sync Cache ===")
	fmt.Println()
	fmt.Printf("Database:   %s\n", cacheDBPath())
	fmt.Printf("Streams:    %d\n", stats.Streams)
	fmt.Printf("Miniblocks: %d\n", stats.Miniblocks)
	fmt.Printf("Cleartexts: %d\n", stats.Cleartexts)
	fmt.Printf("Size:       %s\n", formatBytes(stats.SizeBytes))
}

func cmdStreams() {
	store := openStore()
	defer store.Close()

	ids, err := store.ListStreams()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing streams: %v\n", err)
		os.Exit(1)
	}
	if len(ids) == 0 {
		fmt.Println("No streams cached.")
		return
	}

	fmt.Printf("%-14s %-10s %-10s %s\n", "Kind", "LastBlock", "Minipool", "Stream")
	for _, id := range ids {
		rec, err := store.LoadStream(id)
		if err != nil || rec == nil {
			continue
		}
		fmt.Printf("%-14s %-10d %-10d %s\n",
			id.Kind(), rec.LastMiniblockNum, len(rec.Minipool), id)
	}
}

func cmdShow(arg string) {
	streamID := model.StreamID(arg)
	if !streamID.Valid() {
		fmt.Fprintf(os.Stderr, "Invalid stream id: %s\n", arg)
		os.Exit(1)
	}

	store := openStore()
	defer store.Close()

	rec, err := store.LoadStream(streamID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading stream: %v\n", err)
		os.Exit(1)
	}
	if rec == nil {
		fmt.Fprintf(os.Stderr, "Stream not cached: %s\n", streamID)
		os.Exit(1)
	}

	fmt.Println("=== Cached Stream ===")
	fmt.Println()
	fmt.Printf("Stream:          %s\n", streamID)
	fmt.Printf("Kind:            %s\n", streamID.Kind())
	fmt.Printf("Last miniblock:  %d\n", rec.LastMiniblockNum)
	fmt.Printf("Snapshot block:  %d\n", rec.LastSnapshotMiniblockNum)
	fmt.Printf("Pending events:  %d\n", len(rec.Minipool))
	fmt.Printf("Sync node:       %s\n", rec.Cursor.NodeAddress)

	bundles, err := store.LoadMiniblocks(streamID, 0, rec.LastMiniblockNum+1)
	if err == nil {
		fmt.Printf("Cached blocks:   %d\n", len(bundles))
	}
	cleartexts, err := store.LoadCleartexts(streamID)
	if err == nil {
		fmt.Printf("Cleartexts:      %d\n", len(cleartexts))
	}
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	formatStr := fs.String("format", "text", "output format: text, json, markdown")
	verbose := fs.Bool("verbose", false, "verbose output with error details")
	fs.Parse(args)

	v, err := verify.NewVerifier(cacheDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening verifier: %v\n", err)
		os.Exit(1)
	}
	defer v.Close()

	var report *verify.Report
	if fs.NArg() > 0 {
		streamID := model.StreamID(fs.Arg(0))
		if !streamID.Valid() {
			fmt.Fprintf(os.Stderr, "Invalid stream id: %s\n", fs.Arg(0))
			os.Exit(1)
		}
		res, err := v.VerifyStream(streamID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Verification error: %v\n", err)
			os.Exit(1)
		}
		report = &verify.Report{
			DBPath:  cacheDBPath(),
			Valid:   res.Valid,
			Streams: []verify.StreamResult{*res},
		}
		if res.Valid {
			report.Passed = 1
		} else {
			report.Failed = 1
		}
	} else {
		report, err = v.VerifyAll()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Verification error: %v\n", err)
			os.Exit(1)
		}
	}

	gen := verify.NewReportGenerator(verify.ReportFormat(*formatStr)).WithVerbose(*verbose)
	if err := gen.Generate(report, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error rendering report: %v\n", err)
		os.Exit(1)
	}
	if !report.Valid {
		os.Exit(1)
	}
}

func cmdManifest(path string) {
	m, err := config.LoadManifest(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Manifest INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Manifest OK: %d high-priority streams\n", len(m.HighPriorityStreams))
	for _, id := range m.HighPriorityStreams {
		fmt.Printf("  %-14s %s\n", id.Kind(), id)
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
