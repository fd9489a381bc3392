package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print the format of a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		format, pcm, err := audio.DecodeWAV(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sample rate: %d Hz\n", format.SampleRate)
		fmt.Fprintf(out, "channels:    %d\n", format.Channels)
		fmt.Fprintf(out, "bit depth:   %d\n", format.BitDepth)
		fmt.Fprintf(out, "payload:     %s\n", humanize.Bytes(uint64(len(pcm))))
		if format.Channels == 1 {
			fmt.Fprintf(out, "duration:    %s\n", audio.Duration(len(pcm), format.SampleRate).Round(time.Millisecond))
		}
		return nil
	},
}
