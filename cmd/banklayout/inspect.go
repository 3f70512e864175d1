package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/manifest"
	"github.com/garethgeorge/banklayout/internal/output"
	"github.com/spf13/cobra"
)

var (
	inspectBanks     bool
	inspectSegments  bool
	inspectAddresses bool
	inspectVerify    string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <manifest>",
	Short: "Show where every block of a built image went",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		var m manifest.Manifest
		if err := m.Deserialize(f); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		printBlocks(w, &m)
		if inspectSegments {
			printSegments(w, &m)
		}
		if inspectAddresses {
			printAddresses(w, &m)
		}
		if inspectBanks {
			if err := printBanks(w, &m); err != nil {
				return err
			}
		}
		printDigests(w, &m)

		if inspectVerify != "" {
			return verifyImage(w, &m, inspectVerify)
		}
		return nil
	},
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	idColor     = color.New(color.FgWhite, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed, color.Bold)
)

func addressOf(global int) string {
	addr, err := bankaddr.FromGlobal(global)
	if err != nil {
		return fmt.Sprintf("0x%x", global)
	}
	return addr.String()
}

func printBlocks(w io.Writer, m *manifest.Manifest) {
	reg := m.Registry()
	headerColor.Fprintln(w, "Blocks")
	for _, b := range m.Blocks {
		fmt.Fprintf(w, "  %s  %-22s %6d bytes\n", idColor.Sprintf("%-24s", b.ID), addressOf(b.Span.Start), b.Span.Size())
		for _, child := range b.Segments {
			addr, _ := reg.Get(child)
			fmt.Fprintf(w, "    %-24s %s\n", child, addr)
		}
	}
}

func printSegments(w io.Writer, m *manifest.Manifest) {
	headerColor.Fprintln(w, "Segments")
	for _, s := range m.Segments {
		kind := "data"
		if s.Blank {
			kind = "blank"
		}
		fmt.Fprintf(w, "  %-24s %-22s %6d bytes %s\n", s.Name, addressOf(s.Range.Start), s.Range.Size(), kind)
	}
}

// printAddresses lists every assigned id, blocks and segments alike, in ROM order.
func printAddresses(w io.Writer, m *manifest.Manifest) {
	headerColor.Fprintln(w, "Addresses")
	for id, addr := range m.Registry().ByAddress() {
		fmt.Fprintf(w, "  %-22s %s\n", addr, id)
	}
}

func printBanks(w io.Writer, m *manifest.Manifest) error {
	banks, err := m.BankFreeBytes()
	if err != nil {
		return err
	}
	headerColor.Fprintln(w, "Banks")
	for bank, free := range banks {
		used := m.BankSize - free
		if used == 0 {
			continue
		}
		pct := used * 100 / m.BankSize
		c := okColor
		switch {
		case pct >= 90:
			c = errColor
		case pct >= 75:
			c = warnColor
		}
		fmt.Fprintf(w, "  bank 0x%02x  %s  %6d free\n", bank, c.Sprintf("%3d%% used", pct), free)
	}
	return nil
}

func printDigests(w io.Writer, m *manifest.Manifest) {
	headerColor.Fprintln(w, "Digests")
	fmt.Fprintf(w, "  xxh64   %016x\n", m.Digests.XXH64)
	fmt.Fprintf(w, "  sha256  %s\n", m.Digests.SHA256Hex())
	fmt.Fprintf(w, "  blake3  %s\n", m.Digests.BLAKE3Hex())
}

func verifyImage(w io.Writer, m *manifest.Manifest, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if got := output.ComputeDigests(data); got != m.Digests {
		errColor.Fprintf(w, "%s does not match the manifest\n", path)
		return fmt.Errorf("image %s does not match the manifest", path)
	}
	okColor.Fprintf(w, "%s matches the manifest\n", path)
	return nil
}

func init() {
	inspectCmd.Flags().BoolVarP(&inspectBanks, "banks", "b", false, "show how full every used bank is")
	inspectCmd.Flags().BoolVarP(&inspectSegments, "segments", "s", false, "list every written and blanked run")
	inspectCmd.Flags().BoolVarP(&inspectAddresses, "addresses", "a", false, "list every assigned id in address order")
	inspectCmd.Flags().StringVar(&inspectVerify, "verify", "", "check an image file against the manifest digests")
	rootCmd.AddCommand(inspectCmd)
}
