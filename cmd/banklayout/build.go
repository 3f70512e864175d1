package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/garethgeorge/banklayout/internal/config"
	"github.com/garethgeorge/banklayout/internal/layout"
	"github.com/garethgeorge/banklayout/internal/manifest"
	"github.com/garethgeorge/banklayout/internal/output"
	"github.com/garethgeorge/banklayout/internal/writer"
	"github.com/spf13/cobra"
)

var (
	buildOutputs  []string
	buildManifest string
)

var buildCmd = &cobra.Command{
	Use:   "build <layout.yaml>",
	Short: "Place the blocks of a layout and write the image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd.Context(), args[0])
	},
}

func runBuild(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	dests := cfg.Destinations()
	for _, p := range buildOutputs {
		dests = append(dests, output.File(p))
	}
	if len(dests) == 0 {
		return fmt.Errorf("no outputs, set outputs in %s or pass --output", path)
	}

	tracker := newProgressTracker()
	lay, err := layout.New(append(cfg.LayoutOptions(),
		layout.WithLogger(slog.Default()),
		layout.WithProgress(tracker),
	)...)
	if err != nil {
		return err
	}
	if err := cfg.AddBlocks(lay); err != nil {
		return err
	}
	if err := lay.Place(ctx); err != nil {
		return err
	}

	imgOpts, err := cfg.ImageOptions()
	if err != nil {
		return err
	}
	img := writer.NewImage(append(imgOpts, writer.WithLogger(slog.Default()))...)
	if err := lay.Write(img); err != nil {
		return err
	}

	digests, err := output.Fanout(img.Bytes(), dests...)
	if err != nil {
		return err
	}
	for _, dest := range dests {
		slog.Info("wrote image", "dest", dest.Name())
	}

	manifestPath := buildManifest
	if manifestPath == "" {
		manifestPath = cfg.ManifestPath()
	}
	if manifestPath != "" {
		m := manifest.Build(lay, img, cfg.FillerByte(), digests)
		if err := writeManifest(manifestPath, m); err != nil {
			return err
		}
		slog.Info("wrote manifest", "path", manifestPath)
	}

	slog.Info("layout done",
		"blocks", len(lay.Placements()),
		"bytes", img.WrittenBytes(),
		"xxh64", fmt.Sprintf("%016x", digests.XXH64))
	return nil
}

func writeManifest(path string, m *manifest.Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Serialize(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func init() {
	buildCmd.Flags().StringArrayVarP(&buildOutputs, "output", "o", nil, "additional image file to write, may be repeated")
	buildCmd.Flags().StringVarP(&buildManifest, "manifest", "m", "", "where to write the manifest, overrides the layout file")
	rootCmd.AddCommand(buildCmd)
}
