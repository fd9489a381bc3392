package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [VOICE]",
	Short: "Download a voice into the local cache",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		name := cfg.Voice.Name
		if len(args) == 1 {
			name = args[0]
		}

		fetcher := voice.NewFetcher(cfg.Voice.BaseURL, cfg.Voice.CacheDir,
			time.Duration(cfg.Voice.DownloadTimeoutMS)*time.Millisecond, newLogger(cmd))
		assets, err := fetcher.Ensure(cmd.Context(), name)
		if err != nil {
			return err
		}
		model, err := voice.Load(name, assets.ModelPath, assets.ConfigPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, path := range []string{assets.ModelPath, assets.ConfigPath} {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s\n", path, humanize.Bytes(uint64(info.Size())))
		}
		fmt.Fprintf(out, "voice %s ready at %d Hz\n", model.Name, model.SampleRate)
		return nil
	},
}
