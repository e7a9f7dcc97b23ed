package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/normanking/lipsync/internal/lipsync"
	"github.com/normanking/lipsync/internal/viseme"
	"github.com/normanking/lipsync/internal/wav"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func visemesCmd() *cobra.Command {
	var (
		lang   string
		unitMs float64
	)

	cmd := &cobra.Command{
		Use:   "visemes <text>",
		Short: "Segment text into a viseme timeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgMgr.Config()
			registry, err := buildRegistry(cfg, log.Component("main"))
			if err != nil {
				return err
			}
			if lang == "" {
				lang = cfg.Viseme.DefaultLanguage
			}
			if unitMs <= 0 {
				unitMs = cfg.Viseme.UnitMs
			}

			out := viseme.NewSegmenter(registry, log.Zerolog()).WordsToVisemes(strings.Join(args, " "), lang)
			if unitMs > 0 {
				out = out.Scale(unitMs)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "language code (default viseme.default_language)")
	cmd.Flags().Float64Var(&unitMs, "unit-ms", 0, "milliseconds per relative unit (0 keeps relative units)")
	return cmd
}

func approxCmd() *cobra.Command {
	var (
		pcmPath        string
		text           string
		sampleRate     int
		bytesPerSample int
	)

	cmd := &cobra.Command{
		Use:   "approx",
		Short: "Estimate word timing from raw PCM length and a transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgMgr.Config()
			samples, err := os.ReadFile(pcmPath)
			if err != nil {
				return fmt.Errorf("read pcm: %w", err)
			}
			if sampleRate <= 0 {
				sampleRate = cfg.LipSync.SampleRate
			}
			if bytesPerSample <= 0 {
				bytesPerSample = cfg.LipSync.BytesPerSample
			}

			engine := lipsync.NewEngine(cfg.LipSync.Options(), log.Component("lipsync"))
			return printJSON(cmd.OutOrStdout(), engine.Approximate(samples, text, sampleRate, bytesPerSample))
		},
	}
	cmd.Flags().StringVar(&pcmPath, "pcm", "", "raw PCM file")
	cmd.Flags().StringVar(&text, "text", "", "transcript of the audio")
	cmd.Flags().IntVar(&sampleRate, "rate", 0, "sample rate in Hz (default lipsync.sample_rate)")
	cmd.Flags().IntVar(&bytesPerSample, "bytes", 0, "bytes per sample (default lipsync.bytes_per_sample)")
	_ = cmd.MarkFlagRequired("pcm")
	return cmd
}

func wavCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wav",
		Short: "WAV container utilities",
	}
	cmd.AddCommand(wavEncodeCmd(), wavInspectCmd())
	return cmd
}

func wavEncodeCmd() *cobra.Command {
	var (
		in, out                              string
		sampleRate, channels, bytesPerSample int
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Wrap raw little-endian PCM in a WAV header",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgMgr.Config()
			samples, err := os.ReadFile(in)
			if err != nil {
				return fmt.Errorf("read pcm: %w", err)
			}
			if sampleRate <= 0 {
				sampleRate = cfg.LipSync.SampleRate
			}
			if channels <= 0 {
				channels = cfg.LipSync.Channels
			}
			if bytesPerSample <= 0 {
				bytesPerSample = cfg.LipSync.BytesPerSample
			}

			file := wav.Encode(samples, sampleRate, channels, bytesPerSample)
			if err := os.WriteFile(out, file, 0644); err != nil {
				return fmt.Errorf("write wav: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(file))
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "raw PCM input file")
	cmd.Flags().StringVar(&out, "out", "", "WAV output file")
	cmd.Flags().IntVar(&sampleRate, "rate", 0, "sample rate in Hz")
	cmd.Flags().IntVar(&channels, "channels", 0, "channel count")
	cmd.Flags().IntVar(&bytesPerSample, "bytes", 0, "bytes per sample")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// wavInfo is the JSON form printed by wav inspect.
type wavInfo struct {
	wav.Header
	DurationMs   float64 `json:"duration_ms"`
	PayloadBytes int     `json:"payload_bytes"`
}

func wavInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.wav>",
		Short: "Print the header of a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c, err := wav.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), wavInfo{
				Header:       c.Header,
				DurationMs:   float64(c.Duration().Microseconds()) / 1000,
				PayloadBytes: len(c.Payload),
			})
		},
	}
}
