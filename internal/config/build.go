package config

import (
	"fmt"
	"os"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/block"
	"github.com/garethgeorge/banklayout/internal/layout"
	"github.com/garethgeorge/banklayout/internal/output"
	"github.com/garethgeorge/banklayout/internal/writer"
)

// FillerByte returns the configured filler or writer.DefaultFiller.
func (l *Layout) FillerByte() byte {
	if l.Filler == nil {
		return writer.DefaultFiller
	}
	return byte(*l.Filler)
}

func (l *Layout) LayoutOptions() []layout.Option {
	var ranges []bankaddr.AddressRange
	for _, r := range l.Blank {
		ranges = append(ranges, r.addressRange())
	}
	return []layout.Option{layout.WithBlankedRanges(ranges...)}
}

func (l *Layout) ImageOptions() ([]writer.ImageOption, error) {
	opts := []writer.ImageOption{writer.WithFiller(l.FillerByte())}
	if l.Base != "" {
		base, err := os.ReadFile(l.resolve(l.Base))
		if err != nil {
			return nil, fmt.Errorf("reading base image: %w", err)
		}
		opts = append(opts, writer.WithBaseImage(base))
	}
	return opts, nil
}

func (l *Layout) Destinations() []output.Destination {
	dests := make([]output.Destination, 0, len(l.Outputs))
	for _, o := range l.Outputs {
		var dest output.Destination = output.File(l.resolve(o.Path))
		if o.Compress {
			dest = output.Compressed(dest)
		}
		dests = append(dests, dest)
	}
	return dests
}

// AddBlocks adds every described block to lay.
func (l *Layout) AddBlocks(lay *layout.Layout) error {
	for _, b := range l.Blocks {
		if err := l.addBlock(lay, b); err != nil {
			return fmt.Errorf("block %q: %w", b.ID, err)
		}
	}
	return nil
}

func (l *Layout) addBlock(lay *layout.Layout, b Block) error {
	limit, err := ParseLimit(b.Limit)
	if err != nil {
		return err
	}
	var placement []layout.PlacementOption
	if len(b.Banks) > 0 {
		placement = append(placement, layout.InBanks(b.Banks...))
	}
	if b.Address != nil {
		addr, err := bankaddr.New(b.Address.Bank, b.Address.Offset)
		if err != nil {
			return err
		}
		placement = append(placement, layout.At(addr))
	}

	if len(b.Segments) > 0 {
		segments := make([]*block.Segment, 0, len(b.Segments))
		for _, s := range b.Segments {
			payload, err := l.payload(s.Part, s.Parts)
			if err != nil {
				return fmt.Errorf("segment %q: %w", s.ID, err)
			}
			segments = append(segments, block.NewSegment(s.ID, payload))
		}
		sb := block.NewSegmented(b.ID, segments, block.WithLimit(limit))
		for _, r := range b.Reuse {
			sb.AddByteSourceHint(r.addressRange())
		}
		return lay.AddSegmentedBlock(sb, placement...)
	}

	payload, err := l.payload(b.Part, b.Parts)
	if err != nil {
		return err
	}
	return lay.AddBlock(block.New(b.ID, payload, block.WithLimit(limit)), placement...)
}

func (l *Layout) payload(single Part, parts []Part) (block.Payload, error) {
	if len(parts) == 0 {
		return l.part(single)
	}
	seq := make(block.Sequence, 0, len(parts))
	for i, p := range parts {
		payload, err := l.part(p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		seq = append(seq, payload)
	}
	return seq, nil
}

func (l *Layout) part(p Part) (block.Payload, error) {
	switch {
	case p.Data != "":
		data, err := DecodeHex(p.Data)
		if err != nil {
			return nil, fmt.Errorf("decoding data: %w", err)
		}
		return block.Bytes(data), nil
	case p.File != "":
		data, err := os.ReadFile(l.resolve(p.File))
		if err != nil {
			return nil, err
		}
		return block.Bytes(data), nil
	case p.Ref != "":
		return block.Reference{Target: p.Ref, Encoding: block.BankedPointer{}}, nil
	}
	return block.Bytes(nil), nil
}

// ManifestPath returns where the manifest should be written, or "" for none.
func (l *Layout) ManifestPath() string {
	if l.Manifest == "" {
		return ""
	}
	return l.resolve(l.Manifest)
}
