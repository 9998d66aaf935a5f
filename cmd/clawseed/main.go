// Command clawseed seeds the runtime allow/block lists from the command line
// and prints the runtime lists afterwards. Static lists from the config are
// not included in the printout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/waffleophagus/claw-rubber/internal/config"
	"github.com/waffleophagus/claw-rubber/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		dbPath    string
		allowCSV  string
		blockCSV  string
		note      string
	)
	flag.StringVar(&dbPath, "db", "clawrubber.db", "SQLite database path")
	flag.StringVar(&allowCSV, "allow", "", "Comma-separated domains to add to the runtime allowlist")
	flag.StringVar(&blockCSV, "block", "", "Comma-separated domains to add to the runtime blocklist")
	flag.StringVar(&note, "note", "seeded via clawseed", "Note attached to inserted entries")
	flag.Parse()

	st, err := store.Open(dbPath, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer st.Close()

	ctx := context.Background()
	for _, d := range config.SplitCSV(allowCSV) {
		if err := st.AddRuntimeAllowlistDomain(ctx, d, note); err != nil {
			log.Fatal().Err(err).Str("domain", d).Msg("add allowlist entry")
		}
		log.Info().Str("domain", d).Msg("allowlisted")
	}
	for _, d := range config.SplitCSV(blockCSV) {
		if err := st.AddRuntimeBlocklistDomain(ctx, d, note); err != nil {
			log.Fatal().Err(err).Str("domain", d).Msg("add blocklist entry")
		}
		log.Info().Str("domain", d).Msg("blocklisted")
	}

	printList := func(title string, entries []store.RuntimeDomainEntry, err error) {
		if err != nil {
			log.Fatal().Err(err).Msg("list entries")
		}
		fmt.Printf("%s (%d):\n", title, len(entries))
		for _, e := range entries {
			if e.Note != "" {
				fmt.Printf("  %s\t# %s\n", e.Domain, e.Note)
				continue
			}
			fmt.Printf("  %s\n", e.Domain)
		}
	}
	allow, err := st.ListRuntimeAllowlistDomains(ctx)
	printList("runtime allowlist", allow, err)
	block, err := st.ListRuntimeBlocklistDomains(ctx)
	printList("runtime blocklist", block, err)
}
