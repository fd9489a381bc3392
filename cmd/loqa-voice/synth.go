package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-tts/internal/runtime"
	"github.com/loqalabs/loqa-tts/internal/speech"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/spf13/cobra"
)

var synthOutput string

var synthCmd = &cobra.Command{
	Use:   "synth [TEXT]",
	Short: "Synthesize text (or stdin) to a WAV file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var text string
		if len(args) == 1 {
			text = args[0]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = strings.TrimRight(string(data), "\n")
		}

		logger := newLogger(cmd)
		model, err := runtime.LoadVoice(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		synth, err := tts.New(cfg.TTS, model)
		if err != nil {
			return err
		}
		svc := speech.NewService(synth, speech.Options{
			Voice:          model.Name,
			Gap:            speech.GapMillis(cfg.TTS.GapMS),
			MaxConcurrency: 1,
			Logger:         logger,
		})

		res, err := svc.Synthesize(cmd.Context(), speech.Request{Text: text, Source: "cli"})
		if err != nil {
			if errors.Is(err, speech.ErrEmptyText) {
				return errors.New("no text given")
			}
			return err
		}
		if err := os.WriteFile(synthOutput, res.WAV, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d segments, %s audio, %s\n",
			synthOutput, res.Segments, res.Audio.Round(time.Millisecond), humanize.Bytes(uint64(len(res.WAV))))
		return nil
	},
}

func init() {
	synthCmd.Flags().StringVarP(&synthOutput, "output", "o", "out.wav", "output WAV file")
}
