package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"royale-miner/internal/config"
	"royale-miner/internal/db"
	"royale-miner/internal/discord"
	"royale-miner/internal/miner"
	"royale-miner/internal/royale"
	"royale-miner/internal/storage"
)

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred closes happen before exiting
func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}

	tag := flag.String("tag", cfg.PlayerTag, "Player tag to mine (with or without '#')")
	dataPath := flag.String("data", cfg.DataPath, "Dataset CSV path")
	keyFile := flag.String("key-file", cfg.KeyFile, "File holding the API bearer token")
	archiveDir := flag.String("archive-dir", cfg.ArchiveDir, "Directory for gzip snapshots taken before each save (empty disables)")
	mirrorURL := flag.String("mirror", cfg.MirrorURL, "Database to mirror the dataset into (postgres://, libsql://, sqlite path)")
	noNotify := flag.Bool("no-notify", false, "Skip the Discord notification even if a webhook is configured")
	flag.Parse()

	opts := []royale.ClientOption{
		royale.WithBaseURL(cfg.BaseURL),
		royale.WithTimeout(cfg.HTTPTimeout),
		royale.WithKeyFile(*keyFile),
	}
	if cfg.APIKey != "" {
		opts = append(opts, royale.WithAPIKey(cfg.APIKey))
	}

	// nothing is touched when the client can't be built
	client, err := royale.NewClient(opts...)
	if err != nil {
		log.Printf("Failed to create API client: %v", err)
		return 1
	}

	store := storage.NewCSVStore(*dataPath)
	runner := miner.NewRunner(client, store)

	if *archiveDir != "" {
		archiver, err := storage.NewArchiver(*archiveDir, cfg.ArchiveKeep)
		if err != nil {
			log.Printf("Failed to create archiver: %v", err)
			return 1
		}
		runner.Archiver = archiver
	}

	ctx := miner.SetupSignalHandler()

	if *mirrorURL != "" {
		mirror, err := db.OpenMirror(ctx, *mirrorURL, cfg.MirrorAuthToken)
		if err != nil {
			// the CSV is the dataset of record; run without the mirror
			log.Printf("Mirror unavailable, continuing without it: %v", err)
		} else {
			defer mirror.Close()
			runner.Mirror = mirror
		}
	}

	if cfg.DiscordWebhookURL != "" && !*noNotify {
		runner.Notifier = discord.NewWebhookClient(cfg.DiscordWebhookURL)
	}

	fmt.Printf("Mining %s into %s\n", royale.NormalizeTag(*tag), *dataPath)

	report, err := runner.Run(ctx, *tag)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("[Shutdown] Interrupted")
		}
		log.Printf("Run failed, dataset unchanged: %v", err)
		return 1
	}

	fmt.Printf("\n=== Run Complete ===\n")
	fmt.Printf("Run ID: %s\n", report.RunID)
	fmt.Printf("PvP battles fetched: %d\n", report.Fetched)
	fmt.Printf("New entries: %d\n", report.NewEntries)
	fmt.Printf("Total rows: %d\n", report.TotalRows)
	if report.Created {
		fmt.Println("Dataset created")
	}
	if runner.Mirror != nil {
		fmt.Printf("Mirrored rows inserted: %d\n", report.Mirrored)
	}
	fmt.Printf("Time: %s\n", report.Duration.Round(time.Millisecond))
	return 0
}
