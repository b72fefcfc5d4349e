// Command sweph inspects Swiss Ephemeris files.
//
// Logging:
//   - The base logger is built here from --log-level and written to stderr
//   - Components get it through their options and scope it themselves
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mshafiee/sweph"
	"github.com/mshafiee/sweph/bytesource"
	"github.com/mshafiee/sweph/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sweph:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	logger := logging.Discard()

	rootCmd := &cobra.Command{
		Use:           "sweph",
		Short:         "Inspect Swiss Ephemeris .se1 files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			levelName, _ := cmd.Flags().GetString("log-level")
			level, err := logging.ParseLevel(levelName)
			if err != nil {
				return err
			}
			logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("ephe-path", "", "search path for ephemeris files (default: $"+sweph.EnvEphePath+")")

	infoCmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Print the header and body constants of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			src, name, err := openSource(ctx, args[0])
			if err != nil {
				return err
			}
			f, err := sweph.Open(src, name, sweph.WithLogger(logger))
			if err != nil {
				return err
			}
			defer f.Close()
			printInfo(cmd.OutOrStdout(), f)
			return nil
		},
	}

	rangeCmd := &cobra.Command{
		Use:   "range <file>",
		Short: "Print the validity range of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			src, name, err := openSource(ctx, args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			start, end, err := sweph.FileTimeRange(src, sweph.KindOfFile(name))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.1f\t%.1f\n", name, start, end)
			return nil
		},
	}

	segmentCmd := &cobra.Command{
		Use:   "segment",
		Short: "Decode the coefficients of a body at a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := cmd.Flags().GetInt("body")
			jd, _ := cmd.Flags().GetFloat64("jd")
			eval, _ := cmd.Flags().GetBool("eval")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			store, err := newStore(cmd, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			seg, err := store.Segment(ctx, body, jd)
			if err != nil {
				return err
			}
			printSegment(cmd.OutOrStdout(), seg)
			if eval {
				pos, vel := seg.Evaluate(jd)
				fmt.Fprintf(cmd.OutOrStdout(), "pos\t%.12f\t%.12f\t%.12f\n", pos[0], pos[1], pos[2])
				fmt.Fprintf(cmd.OutOrStdout(), "vel\t%.12f\t%.12f\t%.12f\n", vel[0], vel[1], vel[2])
			}
			return nil
		},
	}
	segmentCmd.Flags().Int("body", sweph.BodyMercury, "body number (numbered asteroids: 10000 + MPC number)")
	segmentCmd.Flags().Float64("jd", 2451545.0, "Julian day (TT)")
	segmentCmd.Flags().Bool("eval", false, "also evaluate the segment at the date")

	findCmd := &cobra.Command{
		Use:   "find",
		Short: "Locate the file that carries a body at a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := cmd.Flags().GetInt("body")
			jd, _ := cmd.Flags().GetFloat64("jd")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()
			name, err := sweph.FileName(body, jd)
			if err != nil {
				return err
			}
			store, err := newStore(cmd, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			start, end, err := store.Probe(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.1f\t%.1f\n", name, start, end)
			return nil
		},
	}
	findCmd.Flags().Int("body", sweph.BodyMercury, "body number")
	findCmd.Flags().Float64("jd", 2451545.0, "Julian day (TT)")

	compressCmd := &cobra.Command{
		Use:   "compress <file> [<file>...]",
		Short: "Write a seekable zstd copy next to each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				start := time.Now()
				if err := compressFile(path); err != nil {
					return err
				}
				logger.Info("compressed ephemeris file", "file", path, "elapsed", time.Since(start))
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(infoCmd, rangeCmd, segmentCmd, findCmd, compressCmd, versionCmd)
	return rootCmd
}

func newStore(cmd *cobra.Command, logger *slog.Logger) (*sweph.Store, error) {
	path, _ := cmd.Flags().GetString("ephe-path")
	return sweph.NewStore(sweph.StoreConfig{
		Paths:  sweph.SplitPaths(path),
		Logger: logger,
	})
}

// openSource opens a local file, a seekable zstd archive or a URL, and
// returns it with the name the file's header is expected to carry.
func openSource(ctx context.Context, arg string) (bytesource.ByteSource, string, error) {
	switch {
	case strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://"):
		src, err := bytesource.OpenHTTP(ctx, arg, bytesource.HTTPConfig{})
		if err != nil {
			return nil, "", err
		}
		return src, arg, nil
	case strings.HasSuffix(arg, ".zst"):
		src, err := bytesource.OpenZstd(arg)
		if err != nil {
			return nil, "", err
		}
		return src, strings.TrimSuffix(arg, ".zst"), nil
	default:
		src, err := bytesource.OpenFile(arg)
		if err != nil {
			return nil, "", err
		}
		return src, arg, nil
	}
}

func compressFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(path + ".zst")
	if err != nil {
		return err
	}
	if err := bytesource.WriteZstd(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("compress %s: %w", path, err)
	}
	return out.Close()
}

func printInfo(w io.Writer, f *sweph.File) {
	fmt.Fprintf(w, "file\t%s\n", f.Name())
	fmt.Fprintf(w, "kind\t%s\n", f.Kind())
	fmt.Fprintf(w, "version\t%d\n", f.Version)
	fmt.Fprintf(w, "de\t%d\n", f.DENumber)
	fmt.Fprintf(w, "range\t%.1f\t%.1f\n", f.TStart, f.TEnd)
	if f.AsteroidName != "" {
		fmt.Fprintf(w, "asteroid\t%s\n", f.AsteroidName)
	}
	c := f.Constants
	fmt.Fprintf(w, "constants\tc=%g au=%g gm=%g emrat=%g rsun=%g\n", c.CLight, c.AUnit, c.HelGravConst, c.RatME, c.SunRadius)
	for _, b := range f.Bodies {
		fmt.Fprintf(w, "body %d\tflags=%#x ncoe=%d rmax=%g range=%.1f..%.1f dseg=%g segments=%d ellipse=%t\n",
			b.ID, b.Flags, b.NCoe, b.RMax, b.TStart, b.TEnd, b.DSeg, b.NIndex, b.HasEllipse())
	}
}

func printSegment(w io.Writer, seg *sweph.Segment) {
	fmt.Fprintf(w, "body %d\tsegment %.4f..%.4f\tncoe=%d\n", seg.Body, seg.TSeg0, seg.TSeg1, seg.NCoe)
	for axis, label := range []string{"x", "y", "z"} {
		fmt.Fprint(w, label)
		for _, c := range seg.Axis(axis) {
			fmt.Fprintf(w, "\t%.12e", c)
		}
		fmt.Fprintln(w)
	}
}
