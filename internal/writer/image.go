package writer

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/garethgeorge/banklayout/internal/bankaddr"
	"github.com/garethgeorge/banklayout/internal/freespace"
)

const DefaultFiller = 0xFF

// Segment is one named run of an image, as recorded for listings.
type Segment struct {
	Name  string
	Range bankaddr.AddressRange
	// Blank is set for padding written by BlankUnusedSpace.
	Blank bool
}

type imageOptions struct {
	filler byte
	base   []byte
	logger *slog.Logger
}

type ImageOption = func(*imageOptions)

// WithFiller sets the byte used for untouched and blanked space.
func WithFiller(filler byte) ImageOption {
	return func(o *imageOptions) {
		o.filler = filler
	}
}

// WithBaseImage starts the image from an existing ROM instead of filler bytes. Bytes past the end
// of the image are ignored.
func WithBaseImage(base []byte) ImageOption {
	return func(o *imageOptions) {
		o.base = base
	}
}

func WithLogger(logger *slog.Logger) ImageOption {
	return func(o *imageOptions) {
		o.logger = logger
	}
}

// Image is an in-memory sink covering every bank. It implements both SegmentedWriter and
// QueuedWriter and refuses to write the same byte twice unless the open block was given a reuse
// hint covering it.
type Image struct {
	data    []byte
	filler  byte
	logger  *slog.Logger
	written *freespace.Map // free means never written

	open       bool
	cursor     int
	name       string
	reuseHints []bankaddr.AddressRange
	segments   []Segment
}

var (
	_ SegmentedWriter = (*Image)(nil)
	_ QueuedWriter    = (*Image)(nil)
)

func NewImage(opts ...ImageOption) *Image {
	o := imageOptions{
		filler: DefaultFiller,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	data := make([]byte, bankaddr.TotalSize)
	for i := range data {
		data[i] = o.filler
	}
	copy(data, o.base)

	return &Image{
		data:    data,
		filler:  o.filler,
		logger:  o.logger,
		written: freespace.NewAddressSpace(),
	}
}

func (img *Image) CurrentBlockName() string {
	return img.name
}

func (img *Image) NewSegment(addr bankaddr.BankAddress) error {
	return img.StartNewBlock(addr)
}

func (img *Image) StartNewBlock(addr bankaddr.BankAddress, opts ...BlockOption) error {
	global, ok := addr.Global()
	if !ok {
		return fmt.Errorf("%w: block start %v is not a full address", bankaddr.ErrInvalidAddress, addr)
	}
	o := ApplyBlockOptions(opts...)

	img.open = true
	img.cursor = global
	img.reuseHints = o.ReuseHints
	if o.SegmentName != "" {
		img.name = o.SegmentName
	}
	img.segments = append(img.segments, Segment{
		Name:  img.name,
		Range: bankaddr.AddressRange{Start: global, End: global},
	})
	img.logger.Debug("start block", "name", img.name, "addr", addr, "reuse_hints", len(o.ReuseHints))
	return nil
}

func (img *Image) Append(data []byte) error {
	if !img.open {
		return ErrNoOpenBlock
	}
	if len(data) == 0 {
		return nil
	}
	r := bankaddr.AddressRange{Start: img.cursor, End: img.cursor + len(data)}
	if err := img.claim(r, img.reuseHints); err != nil {
		return err
	}
	copy(img.data[r.Start:r.End], data)
	img.cursor = r.End
	img.segments[len(img.segments)-1].Range.End = r.End
	return nil
}

func (img *Image) BlankUnusedSpace(r bankaddr.AddressRange) error {
	if r.IsEmpty() {
		return nil
	}
	if err := img.claim(r, nil); err != nil {
		return err
	}
	for i := r.Start; i < r.End; i++ {
		img.data[i] = img.filler
	}
	img.segments = append(img.segments, Segment{Name: img.name, Range: r, Blank: true})
	img.logger.Debug("blank unused space", "range", r)
	return nil
}

// claim marks r as written, allowing already written bytes only inside hints.
func (img *Image) claim(r bankaddr.AddressRange, hints []bankaddr.AddressRange) error {
	if r.Start < 0 || r.End > len(img.data) {
		return fmt.Errorf("%w: %v", ErrOutOfImage, r)
	}
	if img.written.IsRangeFree(r) {
		return img.written.MarkAllocated(r)
	}

	for alloc := range img.written.IterAllocs() {
		if alloc.Start >= r.End {
			break
		}
		overlap := alloc.Intersect(r)
		if overlap.IsEmpty() {
			continue
		}
		if !coveredBy(overlap, hints) {
			return fmt.Errorf("%w: %v in block %q", ErrOverwrite, overlap, img.name)
		}
	}

	var free []bankaddr.AddressRange
	for f := range img.written.IterFree() {
		if f.Start >= r.End {
			break
		}
		if overlap := f.Intersect(r); !overlap.IsEmpty() {
			free = append(free, overlap)
		}
	}
	return img.written.MarkAllocated(free...)
}

func coveredBy(r bankaddr.AddressRange, hints []bankaddr.AddressRange) bool {
	for _, h := range hints {
		if h.ContainsRange(r) {
			return true
		}
	}
	return false
}

// Bytes returns the whole image. The slice is shared with the Image.
func (img *Image) Bytes() []byte {
	return img.data
}

// Segments returns the non-empty runs in the order they were written.
func (img *Image) Segments() []Segment {
	segments := make([]Segment, 0, len(img.segments))
	for _, s := range img.segments {
		if !s.Range.IsEmpty() {
			segments = append(segments, s)
		}
	}
	return segments
}

// WrittenBytes returns how many bytes were written or blanked.
func (img *Image) WrittenBytes() int {
	return img.written.Domain.Size() - img.written.AvailableCapacity
}

// BankFreeBytes returns how many bytes of bank were neither written nor blanked.
func (img *Image) BankFreeBytes(bank int) int {
	return img.written.BankFreeBytes(bank)
}

func (img *Image) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(img.data)
	return int64(n), err
}
