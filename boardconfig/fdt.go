// Licensed under GPLv3 or later.

// fdt.go - flattened device tree parser.
//
// Read-only parser for standard DTB binaries (magic 0xD00DFEED,
// big-endian, BEGIN_NODE/PROP/END_NODE structure tokens). The kernel
// only needs two properties out of a board's DTB -- /clocks/system-clock
// and /console/{uart,baud} -- everything else is skipped, not rejected.
// Ported from the original's Fdt.cpp token walk using encoding/binary
// in place of __builtin_bswap32, the same way the teacher's binary-file
// parsers (ahx_parser.go, vgm_parser.go) validate a header then walk a
// token stream with bounds checks at every step.
package boardconfig

import (
	"encoding/binary"
	"fmt"
)

const (
	fdtMagic      = 0xD00DFEED
	tokenBeginNode = 1
	tokenEndNode   = 2
	tokenProp      = 3
	tokenNop       = 4
	tokenEnd       = 9
	headerSize     = 40
)

// Board is the result of parsing a DTB: the two properties the kernel
// core actually consumes.
type Board struct {
	TickHz       uint32
	ConsoleUART  string
	ConsoleBaud  uint32
}

type header struct {
	totalSize   uint32
	offStruct   uint32
	offStrings  uint32
	sizeStruct  uint32
}

func align4(v uint32) uint32 { return (v + 3) &^ 3 }

func readHeader(dtb []byte) (header, error) {
	if len(dtb) < headerSize {
		return header{}, fmt.Errorf("boardconfig: dtb shorter than header (%d bytes)", len(dtb))
	}
	if binary.BigEndian.Uint32(dtb[0:4]) != fdtMagic {
		return header{}, fmt.Errorf("boardconfig: bad magic %#x", binary.BigEndian.Uint32(dtb[0:4]))
	}
	h := header{
		totalSize:  binary.BigEndian.Uint32(dtb[4:8]),
		offStruct:  binary.BigEndian.Uint32(dtb[8:12]),
		offStrings: binary.BigEndian.Uint32(dtb[12:16]),
		sizeStruct: binary.BigEndian.Uint32(dtb[36:40]),
	}
	if h.totalSize > uint32(len(dtb)) {
		return header{}, fmt.Errorf("boardconfig: total_size %d exceeds blob length %d", h.totalSize, len(dtb))
	}
	return h, nil
}

// Validate checks that dtb looks like a well-formed DTB within maxSize.
func Validate(dtb []byte, maxSize uint32) bool {
	if uint32(len(dtb)) > maxSize {
		return false
	}
	_, err := readHeader(dtb)
	return err == nil
}

type walker struct {
	dtb []byte
	h   header
	pos uint32
}

func (w *walker) token() (uint32, error) {
	base := w.h.offStruct + w.pos
	if base+4 > uint32(len(w.dtb)) {
		return 0, fmt.Errorf("boardconfig: structure block overrun at %d", w.pos)
	}
	tok := binary.BigEndian.Uint32(w.dtb[base : base+4])
	w.pos += 4
	return tok, nil
}

func (w *walker) cstring() (string, error) {
	base := w.h.offStruct + w.pos
	end := base
	for end < uint32(len(w.dtb)) && w.dtb[end] != 0 {
		end++
	}
	if end >= uint32(len(w.dtb)) {
		return "", fmt.Errorf("boardconfig: unterminated string at %d", base)
	}
	s := string(w.dtb[base:end])
	w.pos += align4(end - base + 1)
	return s, nil
}

func (w *walker) propNameAndData() (name string, data []byte, err error) {
	length, err := w.token()
	if err != nil {
		return "", nil, err
	}
	nameOff, err := w.token()
	if err != nil {
		return "", nil, err
	}
	strBase := w.h.offStrings + nameOff
	nameEnd := strBase
	for nameEnd < uint32(len(w.dtb)) && w.dtb[nameEnd] != 0 {
		nameEnd++
	}
	if nameEnd >= uint32(len(w.dtb)) {
		return "", nil, fmt.Errorf("boardconfig: string block overrun")
	}
	name = string(w.dtb[strBase:nameEnd])
	dataBase := w.h.offStruct + w.pos
	if dataBase+length > uint32(len(w.dtb)) {
		return "", nil, fmt.Errorf("boardconfig: property %q overruns blob", name)
	}
	data = w.dtb[dataBase : dataBase+length]
	w.pos += align4(length)
	return name, data, nil
}

// nodeProps walks one node's immediate properties (not descending into
// children) and returns them keyed by name. pos must point just past
// the node's BEGIN_NODE + name when called.
func (w *walker) nodeProps() (map[string][]byte, error) {
	props := map[string][]byte{}
	for {
		if w.pos >= w.h.sizeStruct {
			return props, fmt.Errorf("boardconfig: structure block ended mid-node")
		}
		tok, err := w.token()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokenProp:
			name, data, err := w.propNameAndData()
			if err != nil {
				return nil, err
			}
			props[name] = data
		case tokenNop:
			// skip
		default:
			// BEGIN_NODE, END_NODE, or END: stop before consuming it,
			// rewind so the caller's own walk sees it.
			w.pos -= 4
			return props, nil
		}
	}
}

// findNode walks the structure block looking for a node whose path
// (e.g. "/clocks" or "/console") matches exactly, returning its
// immediate properties. Unknown sibling subtrees are skipped whole.
func (w *walker) findNode(path string) (map[string][]byte, bool, error) {
	segments := splitPath(path)
	depth := 0
	matched := 0
	for w.pos < w.h.sizeStruct {
		tok, err := w.token()
		if err != nil {
			return nil, false, err
		}
		switch tok {
		case tokenBeginNode:
			name, err := w.cstring()
			if err != nil {
				return nil, false, err
			}
			depth++
			if matched < len(segments) && name == segments[matched] {
				matched++
				if matched == len(segments) {
					props, err := w.nodeProps()
					if err != nil {
						return nil, false, err
					}
					return props, true, nil
				}
				continue
			}
			if err := w.skipSubtree(); err != nil {
				return nil, false, err
			}
			depth--
		case tokenEndNode:
			depth--
			if depth < 0 {
				return nil, false, fmt.Errorf("boardconfig: unbalanced END_NODE")
			}
		case tokenProp:
			if _, _, err := w.propNameAndData(); err != nil {
				return nil, false, err
			}
		case tokenNop:
		case tokenEnd:
			return nil, false, nil
		default:
			return nil, false, fmt.Errorf("boardconfig: unknown token %d", tok)
		}
	}
	return nil, false, nil
}

// skipSubtree consumes tokens up to and including the END_NODE that
// closes the node this walker just entered (one BEGIN_NODE already
// consumed by the caller).
func (w *walker) skipSubtree() error {
	depth := 1
	for depth > 0 {
		if w.pos >= w.h.sizeStruct {
			return fmt.Errorf("boardconfig: structure block ended mid-subtree")
		}
		tok, err := w.token()
		if err != nil {
			return err
		}
		switch tok {
		case tokenBeginNode:
			if _, err := w.cstring(); err != nil {
				return err
			}
			depth++
		case tokenEndNode:
			depth--
		case tokenProp:
			if _, _, err := w.propNameAndData(); err != nil {
				return err
			}
		case tokenNop:
		default:
			return fmt.Errorf("boardconfig: unknown token %d in subtree", tok)
		}
	}
	return nil
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}

// Parse extracts the two properties the kernel core requires:
// /clocks/system-clock (Hz) and /console/uart + /console/baud.
// Other nodes and properties are present in real boards' DTBs but are
// consumed by out-of-scope drivers; Parse tolerates and ignores them.
func Parse(dtb []byte) (*Board, error) {
	h, err := readHeader(dtb)
	if err != nil {
		return nil, err
	}
	w := &walker{dtb: dtb, h: h}
	clockProps, ok, err := w.findNode("/clocks")
	if err != nil {
		return nil, err
	}
	b := &Board{}
	if ok {
		if raw, ok := clockProps["system-clock"]; ok && len(raw) >= 4 {
			b.TickHz = binary.BigEndian.Uint32(raw)
		}
	}

	w2 := &walker{dtb: dtb, h: h}
	consoleProps, ok, err := w2.findNode("/console")
	if err != nil {
		return nil, err
	}
	if ok {
		if raw, ok := consoleProps["uart"]; ok {
			b.ConsoleUART = trimNUL(raw)
		}
		if raw, ok := consoleProps["baud"]; ok && len(raw) >= 4 {
			b.ConsoleBaud = binary.BigEndian.Uint32(raw)
		}
	}
	if b.TickHz == 0 {
		return nil, fmt.Errorf("boardconfig: /clocks/system-clock missing or zero")
	}
	return b, nil
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
