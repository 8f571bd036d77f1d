// Command guardianctl is a small, read-only CLI for ad-hoc inspection of a
// profile's moderation Sample Store, the Go equivalent of
// original_source/tools/query_moderation_log.py. It opens the same
// internal/samplestore package the server uses, never writes to it, and
// never starts the HTTP proxy.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/looplj/guardianbridge/internal/moderation/profile"
	"github.com/looplj/guardianbridge/internal/samplestore"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "samples" {
		os.Exit(runSamplesCommand(os.Args[2:]))
	}

	showHelp()
}

func showHelp() {
	fmt.Println("guardianctl: ad-hoc inspection of a GuardianBridge profile's sample store")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  guardianctl samples list --root DIR --profile NAME [--limit N]")
	fmt.Println("  guardianctl samples show --root DIR --profile NAME --id ID")
}

func runSamplesCommand(args []string) int {
	if len(args) == 0 {
		showHelp()
		return 1
	}

	switch args[0] {
	case "list":
		return runSamplesList(args[1:])
	case "show":
		return runSamplesShow(args[1:])
	default:
		showHelp()
		return 1
	}
}

func openStore(fs *flag.FlagSet, root, profileName *string) (*samplestore.Store, func(), int) {
	if *root == "" || *profileName == "" {
		fmt.Fprintf(os.Stderr, "Usage: guardianctl samples %s --root DIR --profile NAME [flags]\n", fs.Name())
		return nil, nil, 1
	}

	profiles := profile.NewStore(*root)

	prof, err := profiles.Get(*profileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load profile %q: %v\n", *profileName, err)
		return nil, nil, 1
	}

	legacy := prof.Dir + "/history.db"

	store, err := samplestore.Open(prof.HistoryDir(), legacy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open sample store for %q: %v\n", *profileName, err)
		return nil, nil, 1
	}

	return store, func() { store.Close() }, 0
}

func runSamplesList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	root := fs.String("root", "", "profiles root directory")
	profileName := fs.String("profile", "", "profile name")
	limit := fs.Int("limit", 20, "number of most recent samples to show")
	_ = fs.Parse(args)

	store, closeFn, code := openStore(fs, root, profileName)
	if code != 0 {
		return code
	}
	defer closeFn()

	total, err := store.Count()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read count: %v\n", err)
		return 1
	}

	count0, count1, err := store.LabelCounts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read label counts: %v\n", err)
		return 1
	}

	samples, err := store.List(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list samples: %v\n", err)
		return 1
	}

	fmt.Printf("total records: %d\n\n", total)
	fmt.Printf("most recent %d records:\n", len(samples))
	fmt.Println(separator)

	for _, s := range samples {
		printSample(s)
		fmt.Println(separator)
	}

	fmt.Println()
	fmt.Println("label counts:")
	fmt.Printf("  pass:      %d\n", count0)
	fmt.Printf("  violation: %d\n", count1)

	return 0
}

func runSamplesShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	root := fs.String("root", "", "profiles root directory")
	profileName := fs.String("profile", "", "profile name")
	id := fs.Int64("id", 0, "sample id")
	_ = fs.Parse(args)

	if *id == 0 {
		fmt.Fprintln(os.Stderr, "Usage: guardianctl samples show --root DIR --profile NAME --id ID")
		return 1
	}

	store, closeFn, code := openStore(fs, root, profileName)
	if code != 0 {
		return code
	}
	defer closeFn()

	sample, ok, err := store.Get(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load sample %d: %v\n", *id, err)
		return 1
	}

	if !ok {
		fmt.Fprintf(os.Stderr, "sample %d not found\n", *id)
		return 1
	}

	printSample(sample)

	return 0
}

const separator = "--------------------------------------------------------------------------------"

func printSample(s samplestore.Sample) {
	labelStr := "PASS"
	if s.Label == 1 {
		labelStr = "VIOLATION"
	}

	category := s.Category
	if category == "" {
		category = "N/A"
	}

	text := s.Text
	if len(text) > 100 {
		text = text[:100] + "..."
	}

	fmt.Printf("ID: %d | %s | category: %s\n", s.ID, labelStr, category)
	fmt.Printf("time: %s\n", s.CreatedAt)
	fmt.Printf("text: %s\n", text)
}
