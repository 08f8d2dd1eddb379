package bitstream

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"overlaycode-go/errcode"
)

// preamble is the fixed start of a Xilinx .bit file: a 9-byte field
// (length 0x0009) followed by a 2-byte 0x0001 key count.
var preamble = []byte{0x00, 0x09, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x0f, 0xf0, 0x00, 0x00, 0x01}

// Header fields, keyed by the tag byte that introduces them.
const (
	tagDesign = 'a'
	tagPart   = 'b'
	tagDate   = 'c'
	tagTime   = 'd'
	tagData   = 'e'
)

// Header is the metadata block in front of the configuration data.
type Header struct {
	Design     string
	UserID     string
	Version    string
	Part       string
	Date       string
	Time       string
	DataLength uint32
	// DataOffset is the file offset of the first configuration byte.
	DataOffset int64
}

// ParseHeader reads the header and stops at the start of the data.
func ParseHeader(r io.Reader) (Header, error) {
	var h Header
	cr := &countingReader{r: bufio.NewReader(r)}

	pre := make([]byte, len(preamble))
	if _, err := io.ReadFull(cr, pre); err != nil {
		return h, invalid("short preamble", err)
	}
	if !bytes.Equal(pre, preamble) {
		return h, invalid("bad preamble", nil)
	}

	var tag [1]byte
	for {
		if _, err := io.ReadFull(cr, tag[:]); err != nil {
			return h, invalid("missing data section", err)
		}
		if tag[0] == tagData {
			var n [4]byte
			if _, err := io.ReadFull(cr, n[:]); err != nil {
				return h, invalid("short data length", err)
			}
			h.DataLength = binary.BigEndian.Uint32(n[:])
			h.DataOffset = cr.n
			return h, nil
		}
		s, err := readField(cr)
		if err != nil {
			return h, err
		}
		switch tag[0] {
		case tagDesign:
			h.Design, h.UserID, h.Version = splitDesign(s)
		case tagPart:
			h.Part = s
		case tagDate:
			h.Date = s
		case tagTime:
			h.Time = s
		default:
			return h, invalid("unknown field tag "+string(tag[0]), nil)
		}
	}
}

func readField(r io.Reader) (string, error) {
	var n [2]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return "", invalid("short field length", err)
	}
	buf := make([]byte, binary.BigEndian.Uint16(n[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", invalid("short field", err)
	}
	return string(bytes.TrimRight(buf, "\x00")), nil
}

// splitDesign breaks "name;UserID=0xFFFFFFFF;Version=2016.1".
func splitDesign(s string) (design, userID, version string) {
	parts := strings.Split(s, ";")
	design = parts[0]
	for _, p := range parts[1:] {
		k, v, _ := strings.Cut(p, "=")
		switch k {
		case "UserID":
			userID = v
		case "Version":
			version = v
		}
	}
	return design, userID, version
}

func invalid(msg string, err error) error {
	return &errcode.E{C: errcode.InvalidBitstream, Op: "bitstream.header", Msg: msg, Err: err}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
