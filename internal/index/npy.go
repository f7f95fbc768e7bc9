package index

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var npyMagic = []byte("\x93NUMPY")

const (
	npyAlign      = 64
	npyPrefixSize = 10 // magic(6) + version(2) + header length(2)
)

var (
	descrRe = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	orderRe = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRe = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

type npyHeader struct {
	descr string
	shape []int
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, n := range shape {
		parts[i] = strconv.Itoa(n)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// writeHeader writes a version 1.0 header, padded so the data starts on a 64 byte boundary.
func writeHeader(w io.Writer, h npyHeader) error {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", h.descr, formatShape(h.shape))
	total := npyPrefixSize + len(dict) + 1
	pad := (npyAlign - total%npyAlign) % npyAlign
	hlen := len(dict) + pad + 1
	if hlen > math.MaxUint16 {
		return fmt.Errorf("npy header too long: %d bytes", hlen)
	}
	var buf bytes.Buffer
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	_ = binary.Write(&buf, binary.LittleEndian, uint16(hlen))
	buf.WriteString(dict)
	buf.WriteString(strings.Repeat(" ", pad))
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func readHeader(r io.Reader) (npyHeader, error) {
	prefix := make([]byte, npyPrefixSize)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return npyHeader{}, fmt.Errorf("read npy prefix: %w", err)
	}
	if !bytes.Equal(prefix[:6], npyMagic) {
		return npyHeader{}, fmt.Errorf("not an npy file")
	}
	if prefix[6] != 1 {
		return npyHeader{}, fmt.Errorf("unsupported npy version %d.%d", prefix[6], prefix[7])
	}
	hlen := binary.LittleEndian.Uint16(prefix[8:10])
	raw := make([]byte, hlen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return npyHeader{}, fmt.Errorf("read npy header: %w", err)
	}
	dict := string(raw)
	m := descrRe.FindStringSubmatch(dict)
	if m == nil {
		return npyHeader{}, fmt.Errorf("npy header has no descr")
	}
	h := npyHeader{descr: m[1]}
	if o := orderRe.FindStringSubmatch(dict); o != nil && o[1] == "True" {
		return npyHeader{}, fmt.Errorf("fortran order arrays are not supported")
	}
	s := shapeRe.FindStringSubmatch(dict)
	if s == nil {
		return npyHeader{}, fmt.Errorf("npy header has no shape")
	}
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return npyHeader{}, fmt.Errorf("invalid npy shape %q", s[1])
		}
		h.shape = append(h.shape, n)
	}
	return h, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// encodeFeatures writes an (N, D) little-endian float32 matrix.
func encodeFeatures(w io.Writer, features [][]float32, dims int) error {
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, npyHeader{descr: "<f4", shape: []int{len(features), dims}}); err != nil {
		return err
	}
	for _, row := range features {
		if _, err := bw.Write(float32SliceToBytes(row)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// maxRunes is the width numpy picks for a unicode array: the longest string, at least 1.
func maxRunes(strs []string) int {
	width := 1
	for _, s := range strs {
		if n := utf8.RuneCountInString(s); n > width {
			width = n
		}
	}
	return width
}

// Bytes that are not valid UTF-8 are stored as lone surrogates U+DC80..U+DCFF, the way Python
// decodes file names with surrogateescape, so any file name survives a round trip.
const escapeBase = 0xDC00

// pathRunes returns the code points stored for p.
func pathRunes(p string) []rune {
	out := make([]rune, 0, len(p))
	for i := 0; i < len(p); {
		r, size := utf8.DecodeRuneInString(p[i:])
		if r == utf8.RuneError && size == 1 {
			r = escapeBase + rune(p[i])
		}
		out = append(out, r)
		i += size
	}
	return out
}

// encodePaths writes an (N,) fixed width UTF-32LE string array.
func encodePaths(w io.Writer, paths []string) error {
	width := maxRunes(paths)
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, npyHeader{descr: "<U" + strconv.Itoa(width), shape: []int{len(paths)}}); err != nil {
		return err
	}
	cell := make([]byte, width*4)
	for _, p := range paths {
		clear(cell)
		for i, r := range pathRunes(p) {
			binary.LittleEndian.PutUint32(cell[i*4:], uint32(r))
		}
		if _, err := bw.Write(cell); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func decodeFeatures(r io.Reader) ([][]float32, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if h.descr != "<f4" {
		return nil, fmt.Errorf("unexpected feature dtype %q", h.descr)
	}
	if len(h.shape) != 2 {
		return nil, fmt.Errorf("feature matrix must be 2-D, got shape %v", h.shape)
	}
	rows, dims := h.shape[0], h.shape[1]
	out := make([][]float32, rows)
	buf := make([]byte, dims*4)
	for i := range out {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read row %d: %w", i, err)
		}
		out[i] = bytesToFloat32Slice(buf)
	}
	return out, nil
}

func decodePaths(r io.Reader) ([]string, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(h.descr, "<U") {
		return nil, fmt.Errorf("unexpected path dtype %q", h.descr)
	}
	width, err := strconv.Atoi(strings.TrimPrefix(h.descr, "<U"))
	if err != nil || width < 1 {
		return nil, fmt.Errorf("invalid path dtype %q", h.descr)
	}
	if len(h.shape) != 1 {
		return nil, fmt.Errorf("path array must be 1-D, got shape %v", h.shape)
	}
	out := make([]string, h.shape[0])
	cell := make([]byte, width*4)
	for i := range out {
		if _, err := io.ReadFull(r, cell); err != nil {
			return nil, fmt.Errorf("read path %d: %w", i, err)
		}
		var sb strings.Builder
		for j := 0; j < width; j++ {
			cp := binary.LittleEndian.Uint32(cell[j*4:])
			if cp == 0 {
				break
			}
			if cp >= escapeBase+0x80 && cp <= escapeBase+0xFF {
				sb.WriteByte(byte(cp - escapeBase))
				continue
			}
			sb.WriteRune(rune(cp))
		}
		out[i] = sb.String()
	}
	return out, nil
}
