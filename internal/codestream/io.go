package codestream

import (
	"fmt"

	"github.com/aswf/go-jpeg2000/internal/stream"
)

// Writer serializes marker segments onto a stream.ByteStream, bit-exact
// per ISO/IEC 15444-1 Annex A. All multi-byte fields are big-endian.
type Writer struct {
	s *stream.ByteStream
}

// NewWriter creates a marker-segment writer over s.
func NewWriter(s *stream.ByteStream) *Writer {
	return &Writer{s: s}
}

func (w *Writer) u8(v uint8) error  { return w.s.WriteUint(uint64(v), 1) }
func (w *Writer) u16(v uint16) error { return w.s.WriteUint(uint64(v), 2) }
func (w *Writer) u32(v uint32) error { return w.s.WriteUint(uint64(v), 4) }

func (w *Writer) marker(m Marker) error { return w.u16(uint16(m)) }

// WriteSOC writes the start-of-codestream marker.
func (w *Writer) WriteSOC() error { return w.marker(SOC) }

// WriteEOC writes the end-of-codestream marker.
func (w *Writer) WriteEOC() error { return w.marker(EOC) }

// WriteSIZ writes the SIZ (image and tile size) marker segment.
func (w *Writer) WriteSIZ(h *Header) error {
	if err := w.marker(SIZ); err != nil {
		return err
	}
	length := 38 + 3*len(h.ComponentInfo)
	if err := w.u16(uint16(length)); err != nil {
		return err
	}
	for _, v := range []uint32{} {
		_ = v
	}
	fields := []uint32{}
	_ = fields
	if err := w.u16(h.Profile); err != nil {
		return err
	}
	for _, v := range []uint32{
		h.ImageWidth, h.ImageHeight, h.ImageXOffset, h.ImageYOffset,
		h.TileWidth, h.TileHeight, h.TileXOffset, h.TileYOffset,
	} {
		if err := w.u32(v); err != nil {
			return err
		}
	}
	if err := w.u16(uint16(len(h.ComponentInfo))); err != nil {
		return err
	}
	for _, c := range h.ComponentInfo {
		if err := w.u8(c.BitDepth); err != nil {
			return err
		}
		if err := w.u8(c.SubsamplingX); err != nil {
			return err
		}
		if err := w.u8(c.SubsamplingY); err != nil {
			return err
		}
	}
	return nil
}

// WriteCAP writes a CAP (extended capabilities, Part 15) marker segment
// carrying the Pcap capability bitmask.
func (w *Writer) WriteCAP(pcap uint32) error {
	if err := w.marker(CAP); err != nil {
		return err
	}
	if err := w.u16(6); err != nil {
		return err
	}
	return w.u32(pcap)
}

// WriteCOD writes the COD (coding style default) marker segment.
func (w *Writer) WriteCOD(c *CodingStyleDefault) error {
	if err := w.marker(COD); err != nil {
		return err
	}
	length := 12 + len(c.PrecinctSizes)
	if err := w.u16(uint16(length)); err != nil {
		return err
	}
	if err := w.u8(c.CodingStyle); err != nil {
		return err
	}
	if err := w.u8(uint8(c.ProgressionOrder)); err != nil {
		return err
	}
	if err := w.u16(c.NumLayers); err != nil {
		return err
	}
	if err := w.u8(c.MultipleComponentXf); err != nil {
		return err
	}
	if err := w.u8(c.NumDecompositions); err != nil {
		return err
	}
	if err := w.u8(c.CodeBlockWidthExp); err != nil {
		return err
	}
	if err := w.u8(c.CodeBlockHeightExp); err != nil {
		return err
	}
	if err := w.u8(c.CodeBlockStyle); err != nil {
		return err
	}
	if err := w.u8(c.WaveletTransform); err != nil {
		return err
	}
	if c.CodingStyle&CodingStylePrecincts != 0 {
		for _, p := range c.PrecinctSizes {
			if err := w.u8((p.HeightExp << 4) | (p.WidthExp & 0x0F)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteCOC writes a COC (coding style component) marker segment.
func (w *Writer) WriteCOC(numComponents int, c *CodingStyleComponent) error {
	if err := w.marker(COC); err != nil {
		return err
	}
	baseLen := 9
	if numComponents >= 257 {
		baseLen = 10
	}
	length := baseLen + len(c.PrecinctSizes)
	if err := w.u16(uint16(length)); err != nil {
		return err
	}
	if numComponents < 257 {
		if err := w.u8(uint8(c.ComponentIndex)); err != nil {
			return err
		}
	} else if err := w.u16(c.ComponentIndex); err != nil {
		return err
	}
	if err := w.u8(c.CodingStyle); err != nil {
		return err
	}
	if err := w.u8(c.NumDecompositions); err != nil {
		return err
	}
	if err := w.u8(c.CodeBlockWidthExp); err != nil {
		return err
	}
	if err := w.u8(c.CodeBlockHeightExp); err != nil {
		return err
	}
	if err := w.u8(c.CodeBlockStyle); err != nil {
		return err
	}
	if err := w.u8(c.WaveletTransform); err != nil {
		return err
	}
	if c.CodingStyle&CodingStylePrecincts != 0 {
		for _, p := range c.PrecinctSizes {
			if err := w.u8((p.HeightExp << 4) | (p.WidthExp & 0x0F)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteQCD writes the QCD (quantization default) marker segment.
func (w *Writer) WriteQCD(q *QuantizationDefault) error {
	if err := w.marker(QCD); err != nil {
		return err
	}
	style := q.QuantizationStyle&0x1F | q.NumGuardBits<<5
	var body int
	if (q.QuantizationStyle & 0x1F) == QuantizationNone {
		body = len(q.StepSizes)
	} else {
		body = 2 * len(q.StepSizes)
	}
	if err := w.u16(uint16(3 + body)); err != nil {
		return err
	}
	if err := w.u8(style); err != nil {
		return err
	}
	return w.writeStepSizes(q.QuantizationStyle&0x1F, q.StepSizes)
}

// WriteQCC writes a QCC (quantization component) marker segment.
func (w *Writer) WriteQCC(numComponents int, q *QuantizationComponent) error {
	if err := w.marker(QCC); err != nil {
		return err
	}
	idxLen := 1
	if numComponents >= 257 {
		idxLen = 2
	}
	style := q.QuantizationStyle&0x1F | q.NumGuardBits<<5
	var body int
	if (q.QuantizationStyle & 0x1F) == QuantizationNone {
		body = len(q.StepSizes)
	} else {
		body = 2 * len(q.StepSizes)
	}
	if err := w.u16(uint16(2 + idxLen + 1 + body)); err != nil {
		return err
	}
	if idxLen == 1 {
		if err := w.u8(uint8(q.ComponentIndex)); err != nil {
			return err
		}
	} else if err := w.u16(q.ComponentIndex); err != nil {
		return err
	}
	if err := w.u8(style); err != nil {
		return err
	}
	return w.writeStepSizes(q.QuantizationStyle&0x1F, q.StepSizes)
}

func (w *Writer) writeStepSizes(style uint8, steps []StepSize) error {
	for _, s := range steps {
		if style == QuantizationNone {
			if err := w.u8(s.Exponent << 3); err != nil {
				return err
			}
		} else {
			v := uint16(s.Exponent)<<11 | (s.Mantissa & 0x7FF)
			if err := w.u16(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// WritePOC writes a POC (progression order change) marker segment.
func (w *Writer) WritePOC(numComponents int, entries []ProgressionOrderChange) error {
	if err := w.marker(POC); err != nil {
		return err
	}
	idxLen := 1
	if numComponents >= 257 {
		idxLen = 2
	}
	entryLen := 5 + 2*idxLen
	if err := w.u16(uint16(2 + entryLen*len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.u8(e.ResolutionStart); err != nil {
			return err
		}
		if idxLen == 1 {
			if err := w.u8(uint8(e.ComponentStart)); err != nil {
				return err
			}
		} else if err := w.u16(e.ComponentStart); err != nil {
			return err
		}
		if err := w.u16(e.LayerEnd); err != nil {
			return err
		}
		if err := w.u8(e.ResolutionEnd); err != nil {
			return err
		}
		if idxLen == 1 {
			if err := w.u8(uint8(e.ComponentEnd)); err != nil {
				return err
			}
		} else if err := w.u16(e.ComponentEnd); err != nil {
			return err
		}
		if err := w.u8(uint8(e.ProgressionOrder)); err != nil {
			return err
		}
	}
	return nil
}

// WriteRGN writes an RGN (region of interest) marker segment.
func (w *Writer) WriteRGN(numComponents int, r *RegionOfInterest) error {
	if err := w.marker(RGN); err != nil {
		return err
	}
	idxLen := 1
	if numComponents >= 257 {
		idxLen = 2
	}
	if err := w.u16(uint16(3 + idxLen)); err != nil {
		return err
	}
	if idxLen == 1 {
		if err := w.u8(uint8(r.ComponentIndex)); err != nil {
			return err
		}
	} else if err := w.u16(uint16(r.ComponentIndex)); err != nil {
		return err
	}
	if err := w.u8(r.Style); err != nil {
		return err
	}
	return w.u8(r.Shift)
}

// WriteCRG writes a CRG (component registration) marker segment.
func (w *Writer) WriteCRG(entries []ComponentRegistration) error {
	if err := w.marker(CRG); err != nil {
		return err
	}
	if err := w.u16(uint16(2 + 4*len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.u16(e.XCRG); err != nil {
			return err
		}
		if err := w.u16(e.YCRG); err != nil {
			return err
		}
	}
	return nil
}

// WriteCOM writes a COM (comment) marker segment.
func (w *Writer) WriteCOM(registration uint16, data []byte) error {
	if err := w.marker(COM); err != nil {
		return err
	}
	if err := w.u16(uint16(4 + len(data))); err != nil {
		return err
	}
	if err := w.u16(registration); err != nil {
		return err
	}
	_, err := w.s.Write(data)
	return err
}

// WriteTLM writes a TLM (tile-part lengths) marker segment.
func (w *Writer) WriteTLM(index uint8, lengths []TileLength) error {
	if err := w.marker(TLM); err != nil {
		return err
	}
	if err := w.u16(uint16(4 + 6*len(lengths))); err != nil {
		return err
	}
	if err := w.u8(index); err != nil {
		return err
	}
	if err := w.u8(0x60); err != nil { // Stlm: 16-bit tile index, 32-bit length
		return err
	}
	for _, l := range lengths {
		if err := w.u16(l.TileIndex); err != nil {
			return err
		}
		if err := w.u32(l.Length); err != nil {
			return err
		}
	}
	return nil
}

// WritePLM writes a PLM (packet lengths, main header) marker segment
// carrying packet lengths as variable-length (7-bit continuation) codes.
func (w *Writer) WritePLM(index uint8, packetLengths []uint32) error {
	if err := w.marker(PLM); err != nil {
		return err
	}
	enc := encodeVarLengths(packetLengths)
	if err := w.u16(uint16(4 + len(enc))); err != nil {
		return err
	}
	if err := w.u8(index); err != nil {
		return err
	}
	if err := w.u8(uint8(len(enc))); err != nil {
		return err
	}
	_, err := w.s.Write(enc)
	return err
}

// WritePPM writes a PPM (packed packet headers, main header) marker
// segment carrying a precomputed tile-part packet-header byte stream.
func (w *Writer) WritePPM(index uint8, data []byte) error {
	if err := w.marker(PPM); err != nil {
		return err
	}
	if err := w.u16(uint16(7 + len(data))); err != nil {
		return err
	}
	if err := w.u8(index); err != nil {
		return err
	}
	if err := w.u32(uint32(len(data))); err != nil {
		return err
	}
	_, err := w.s.Write(data)
	return err
}

// WriteSOT writes a SOT (start of tile-part) marker segment.
func (w *Writer) WriteSOT(h *TilePartHeader) error {
	if err := w.marker(SOT); err != nil {
		return err
	}
	if err := w.u16(10); err != nil {
		return err
	}
	if err := w.u16(h.TileIndex); err != nil {
		return err
	}
	if err := w.u32(h.TilePartLength); err != nil {
		return err
	}
	if err := w.u8(h.TilePartIndex); err != nil {
		return err
	}
	return w.u8(h.NumTileParts)
}

// WriteSOD writes the start-of-data marker.
func (w *Writer) WriteSOD() error { return w.marker(SOD) }

// WriteSOP writes a start-of-packet marker segment.
func (w *Writer) WriteSOP(packetIndex uint16) error {
	if err := w.marker(SOP); err != nil {
		return err
	}
	if err := w.u16(4); err != nil {
		return err
	}
	return w.u16(packetIndex)
}

// WriteEPH writes the end-of-packet-header marker.
func (w *Writer) WriteEPH() error { return w.marker(EPH) }

func encodeVarLengths(vals []uint32) []byte {
	var out []byte
	for _, v := range vals {
		var tmp [5]byte
		n := 0
		for {
			tmp[4-n] = byte(v & 0x7F)
			if n > 0 {
				tmp[4-n] |= 0x80
			}
			v >>= 7
			n++
			if v == 0 {
				break
			}
		}
		out = append(out, tmp[5-n:]...)
	}
	return out
}

// Reader parses marker segments from a stream.ByteStream.
type Reader struct {
	s      *stream.ByteStream
	header *Header
}

// NewReader creates a marker-segment reader over s, populating dst as
// markers are parsed.
func NewReader(s *stream.ByteStream, dst *Header) *Reader {
	if dst.ComponentCodingStyles == nil {
		dst.ComponentCodingStyles = make(map[uint16]CodingStyleComponent)
	}
	if dst.ComponentQuantization == nil {
		dst.ComponentQuantization = make(map[uint16]QuantizationComponent)
	}
	return &Reader{s: s, header: dst}
}

func (r *Reader) u8() (uint8, error) {
	v, err := r.s.ReadUint(1)
	return uint8(v), err
}
func (r *Reader) u16() (uint16, error) {
	v, err := r.s.ReadUint(2)
	return uint16(v), err
}
func (r *Reader) u32() (uint32, error) {
	v, err := r.s.ReadUint(4)
	return uint32(v), err
}

// ReadMarker reads the next 2-byte marker code.
func (r *Reader) ReadMarker() (Marker, error) {
	v, err := r.u16()
	return Marker(v), err
}

// ExpectMarker reads the next marker and fails if it does not match want.
func (r *Reader) ExpectMarker(want Marker) error {
	m, err := r.ReadMarker()
	if err != nil {
		return err
	}
	if m != want {
		return fmt.Errorf("codestream: expected %s marker, got %#04x", want, uint16(m))
	}
	return nil
}

// ReadSIZ parses the SIZ marker segment body (marker code already
// consumed by the caller, per ReadMainHeader).
func (r *Reader) ReadSIZ() error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	rsiz, err := r.u16()
	if err != nil {
		return err
	}
	r.header.Profile = rsiz

	fields := []*uint32{
		&r.header.ImageWidth, &r.header.ImageHeight,
		&r.header.ImageXOffset, &r.header.ImageYOffset,
		&r.header.TileWidth, &r.header.TileHeight,
		&r.header.TileXOffset, &r.header.TileYOffset,
	}
	for _, f := range fields {
		v, err := r.u32()
		if err != nil {
			return err
		}
		*f = v
	}

	numComp, err := r.u16()
	if err != nil {
		return err
	}
	r.header.NumComponents = numComp

	expectedLen := 38 + 3*int(numComp)
	if int(length) != expectedLen {
		return fmt.Errorf("SIZ length mismatch: expected %d, got %d", expectedLen, length)
	}

	r.header.ComponentInfo = make([]ComponentInfo, numComp)
	for i := range r.header.ComponentInfo {
		ssiz, err := r.u8()
		if err != nil {
			return err
		}
		xr, err := r.u8()
		if err != nil {
			return err
		}
		yr, err := r.u8()
		if err != nil {
			return err
		}
		r.header.ComponentInfo[i] = ComponentInfo{BitDepth: ssiz, SubsamplingX: xr, SubsamplingY: yr}
	}
	r.header.CalculateDerivedValues()
	return nil
}

// ReadCAP parses a CAP marker segment into the header's Pcap field.
func (r *Reader) ReadCAP() error {
	if _, err := r.u16(); err != nil { // length
		return err
	}
	pcap, err := r.u32()
	if err != nil {
		return err
	}
	r.header.Pcap = pcap
	return nil
}

// ReadCOD parses a COD marker segment into dst, which must not be nil.
func (r *Reader) ReadCOD(dst *CodingStyleDefault) error {
	_, err := r.u16() // length; field count derives it below
	if err != nil {
		return err
	}
	scod, err := r.u8()
	if err != nil {
		return err
	}
	dst.CodingStyle = scod

	prog, err := r.u8()
	if err != nil {
		return err
	}
	dst.ProgressionOrder = ProgressionOrder(prog)

	layers, err := r.u16()
	if err != nil {
		return err
	}
	dst.NumLayers = layers

	mct, err := r.u8()
	if err != nil {
		return err
	}
	dst.MultipleComponentXf = mct

	for _, f := range []*uint8{
		&dst.NumDecompositions, &dst.CodeBlockWidthExp, &dst.CodeBlockHeightExp,
		&dst.CodeBlockStyle, &dst.WaveletTransform,
	} {
		v, err := r.u8()
		if err != nil {
			return err
		}
		*f = v
	}

	if scod&CodingStylePrecincts != 0 {
		numRes := int(dst.NumDecompositions) + 1
		dst.PrecinctSizes = make([]PrecinctSize, numRes)
		for i := 0; i < numRes; i++ {
			pp, err := r.u8()
			if err != nil {
				return err
			}
			dst.PrecinctSizes[i] = PrecinctSize{WidthExp: pp & 0x0F, HeightExp: (pp >> 4) & 0x0F}
		}
	}
	return nil
}

// ReadCOC parses a COC marker segment and stores it by component index.
func (r *Reader) ReadCOC(numComponents int) error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	var compIndex uint16
	if numComponents < 257 {
		b, err := r.u8()
		if err != nil {
			return err
		}
		compIndex = uint16(b)
	} else {
		compIndex, err = r.u16()
		if err != nil {
			return err
		}
	}

	coc := CodingStyleComponent{ComponentIndex: compIndex}
	scoc, err := r.u8()
	if err != nil {
		return err
	}
	coc.CodingStyle = scoc

	for _, f := range []*uint8{
		&coc.NumDecompositions, &coc.CodeBlockWidthExp, &coc.CodeBlockHeightExp,
		&coc.CodeBlockStyle, &coc.WaveletTransform,
	} {
		v, err := r.u8()
		if err != nil {
			return err
		}
		*f = v
	}

	baseLen := 9
	if numComponents >= 257 {
		baseLen = 10
	}
	if scoc&CodingStylePrecincts != 0 {
		n := int(length) - baseLen
		for i := 0; i < n; i++ {
			pp, err := r.u8()
			if err != nil {
				return err
			}
			coc.PrecinctSizes = append(coc.PrecinctSizes, PrecinctSize{WidthExp: pp & 0x0F, HeightExp: (pp >> 4) & 0x0F})
		}
	}
	r.header.ComponentCodingStyles[compIndex] = coc
	return nil
}

// ReadQCD parses a QCD marker segment into dst.
func (r *Reader) ReadQCD(dst *QuantizationDefault) error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	sqcd, err := r.u8()
	if err != nil {
		return err
	}
	dst.QuantizationStyle = sqcd
	dst.NumGuardBits = sqcd >> 5
	return r.readStepSizes(sqcd&0x1F, int(length)-3, &dst.StepSizes)
}

// ReadQCC parses a QCC marker segment and stores it by component index.
func (r *Reader) ReadQCC(numComponents int) error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	var compIndex uint16
	idxLen := 1
	if numComponents >= 257 {
		idxLen = 2
	}
	if idxLen == 1 {
		b, err := r.u8()
		if err != nil {
			return err
		}
		compIndex = uint16(b)
	} else {
		compIndex, err = r.u16()
		if err != nil {
			return err
		}
	}
	sqcc, err := r.u8()
	if err != nil {
		return err
	}
	qcc := QuantizationComponent{ComponentIndex: compIndex, QuantizationStyle: sqcc, NumGuardBits: sqcc >> 5}
	if err := r.readStepSizes(sqcc&0x1F, int(length)-2-idxLen-1, &qcc.StepSizes); err != nil {
		return err
	}
	r.header.ComponentQuantization[compIndex] = qcc
	return nil
}

func (r *Reader) readStepSizes(style uint8, remaining int, dst *[]StepSize) error {
	if style == QuantizationNone {
		n := remaining
		*dst = make([]StepSize, n)
		for i := 0; i < n; i++ {
			b, err := r.u8()
			if err != nil {
				return err
			}
			(*dst)[i] = StepSize{Exponent: b >> 3}
		}
		return nil
	}
	n := remaining / 2
	*dst = make([]StepSize, n)
	for i := 0; i < n; i++ {
		v, err := r.u16()
		if err != nil {
			return err
		}
		(*dst)[i] = StepSize{Exponent: uint8(v >> 11), Mantissa: v & 0x7FF}
	}
	return nil
}

// ReadPOC parses a POC marker segment.
func (r *Reader) ReadPOC(numComponents int) error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	idxLen := 1
	if numComponents >= 257 {
		idxLen = 2
	}
	entryLen := 5 + 2*idxLen
	n := (int(length) - 2) / entryLen
	entries := make([]ProgressionOrderChange, n)
	for i := range entries {
		rs, err := r.u8()
		if err != nil {
			return err
		}
		var cs uint16
		if idxLen == 1 {
			b, err := r.u8()
			if err != nil {
				return err
			}
			cs = uint16(b)
		} else if cs, err = r.u16(); err != nil {
			return err
		}
		le, err := r.u16()
		if err != nil {
			return err
		}
		re, err := r.u8()
		if err != nil {
			return err
		}
		var ce uint16
		if idxLen == 1 {
			b, err := r.u8()
			if err != nil {
				return err
			}
			ce = uint16(b)
		} else if ce, err = r.u16(); err != nil {
			return err
		}
		po, err := r.u8()
		if err != nil {
			return err
		}
		entries[i] = ProgressionOrderChange{
			ResolutionStart: rs, ComponentStart: cs, LayerEnd: le,
			ResolutionEnd: re, ComponentEnd: ce, ProgressionOrder: ProgressionOrder(po),
		}
	}
	r.header.ProgressionOrderChanges = entries
	return nil
}

// ReadRGN parses an RGN marker segment.
func (r *Reader) ReadRGN(numComponents int) error {
	if _, err := r.u16(); err != nil {
		return err
	}
	var compIndex int
	if numComponents < 257 {
		b, err := r.u8()
		if err != nil {
			return err
		}
		compIndex = int(b)
	} else {
		v, err := r.u16()
		if err != nil {
			return err
		}
		compIndex = int(v)
	}
	style, err := r.u8()
	if err != nil {
		return err
	}
	shift, err := r.u8()
	if err != nil {
		return err
	}
	r.header.RegionOfInterest = append(r.header.RegionOfInterest, RegionOfInterest{
		ComponentIndex: compIndex, Style: style, Shift: shift,
	})
	return nil
}

// ReadCOM parses a COM marker segment.
func (r *Reader) ReadCOM() error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	regType, err := r.u16()
	if err != nil {
		return err
	}
	data, err := r.s.Read(int(length) - 4)
	if err != nil {
		return err
	}
	r.header.CommentType = regType
	if regType == CommentLatin1 {
		r.header.Comment = string(data)
	}
	return nil
}

// ReadCRG parses a CRG marker segment.
func (r *Reader) ReadCRG() error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	n := (int(length) - 2) / 4
	entries := make([]ComponentRegistration, n)
	for i := range entries {
		x, err := r.u16()
		if err != nil {
			return err
		}
		y, err := r.u16()
		if err != nil {
			return err
		}
		entries[i] = ComponentRegistration{XCRG: x, YCRG: y}
	}
	r.header.ComponentRegistration = entries
	return nil
}

// ReadTLM parses a TLM marker segment.
func (r *Reader) ReadTLM() error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	if _, err := r.u8(); err != nil { // Ztlm
		return err
	}
	stlm, err := r.u8()
	if err != nil {
		return err
	}
	tileIdxBytes := 2
	if (stlm>>4)&0x3 == 1 {
		tileIdxBytes = 1
	}
	entryLen := tileIdxBytes + 4
	n := (int(length) - 4) / entryLen
	for i := 0; i < n; i++ {
		var tileIdx uint16
		if tileIdxBytes == 1 {
			b, err := r.u8()
			if err != nil {
				return err
			}
			tileIdx = uint16(b)
		} else if tileIdx, err = r.u16(); err != nil {
			return err
		}
		l, err := r.u32()
		if err != nil {
			return err
		}
		r.header.TileLengths = append(r.header.TileLengths, TileLength{TileIndex: tileIdx, Length: l})
	}
	return nil
}

// ReadSOT parses a SOT marker segment.
func (r *Reader) ReadSOT() (*TilePartHeader, error) {
	if _, err := r.u16(); err != nil {
		return nil, err
	}
	tileIdx, err := r.u16()
	if err != nil {
		return nil, err
	}
	length, err := r.u32()
	if err != nil {
		return nil, err
	}
	partIdx, err := r.u8()
	if err != nil {
		return nil, err
	}
	numParts, err := r.u8()
	if err != nil {
		return nil, err
	}
	return &TilePartHeader{
		TileIndex: tileIdx, TilePartLength: length,
		TilePartIndex: partIdx, NumTileParts: numParts,
	}, nil
}

// SkipMarkerSegment skips a marker segment this reader does not
// interpret, using its own length field.
func (r *Reader) SkipMarkerSegment() error {
	length, err := r.u16()
	if err != nil {
		return err
	}
	if length < 2 {
		return fmt.Errorf("codestream: invalid marker segment length %d", length)
	}
	_, err = r.s.Read(int(length) - 2)
	return err
}

// Header returns the header this reader populates.
func (r *Reader) Header() *Header { return r.header }

// ReadMainHeader parses the main header of a codestream from s: SOC,
// then every marker segment up to (but not including) the first SOT,
// leaving the stream positioned at that SOT so the caller can read
// tile-parts with ReadSOT. Marker segments this reader does not
// interpret (PLM, PPM and any unrecognized marker) are skipped via
// their own length field rather than rejected, matching a decoder's
// tolerance for informational segments it has no use for.
func ReadMainHeader(s *stream.ByteStream) (*Header, error) {
	h := &Header{}
	r := NewReader(s, h)

	if err := r.ExpectMarker(SOC); err != nil {
		return nil, fmt.Errorf("codestream: reading SOC: %w", err)
	}

	for {
		m, err := r.ReadMarker()
		if err != nil {
			return nil, fmt.Errorf("codestream: reading marker: %w", err)
		}
		switch m {
		case SOT:
			if err := s.Skip(-2); err != nil { // rewind so ReadSOT can re-read the marker code
				return nil, err
			}
			if err := h.Validate(); err != nil {
				return nil, err
			}
			return h, nil
		case SIZ:
			err = r.ReadSIZ()
		case CAP:
			err = r.ReadCAP()
		case COD:
			err = r.ReadCOD(&h.CodingStyle)
		case COC:
			err = r.ReadCOC(int(h.NumComponents))
		case QCD:
			err = r.ReadQCD(&h.Quantization)
		case QCC:
			err = r.ReadQCC(int(h.NumComponents))
		case POC:
			err = r.ReadPOC(int(h.NumComponents))
		case RGN:
			err = r.ReadRGN(int(h.NumComponents))
		case COM:
			err = r.ReadCOM()
		case CRG:
			err = r.ReadCRG()
		case TLM:
			err = r.ReadTLM()
		default:
			err = r.SkipMarkerSegment()
		}
		if err != nil {
			return nil, fmt.Errorf("codestream: reading %s: %w", m, err)
		}
	}
}
