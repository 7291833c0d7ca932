package frame

import (
	"strconv"
	"strings"

	"github.com/danmuck/urbilink/internal/protocol"
)

const (
	DefaultBufferSize = 128000

	binaryKeyword = "BIN"
)

// Limits constrains parser memory use.
type Limits struct {
	// BufferSize bounds the unconsumed bytes held for one partial frame.
	BufferSize int
}

func DefaultLimits() Limits {
	return Limits{BufferSize: DefaultBufferSize}
}

func (l Limits) WithDefaults() Limits {
	if l.BufferSize <= 0 {
		l.BufferSize = DefaultBufferSize
	}
	return l
}

type phase uint8

const (
	phaseStart phase = iota
	phaseHeader
	phaseBody
	phaseBinary
	phaseDiscard
)

// scanState is everything known about the frame in progress. It survives
// across Append calls so a frame split over many reads is scanned once.
type scanState struct {
	phase     phase
	timestamp int64
	tag       string

	depth    int
	inString bool
	escaped  bool

	// text holds the line without binary bytes, header included.
	text      []byte
	bodyStart int
	stmtStart int

	binRemaining int
	bins         []protocol.Binary
}

// Parser turns an append-only byte stream into URBI messages.
//
// The buffer between start and len(buf) is the unconsumed input; pos is
// the next byte to scan. Parser is not safe for concurrent use.
type Parser struct {
	limits Limits
	buf    []byte
	start  int
	pos    int

	st        scanState
	discarded uint64
}

func NewParser(limits Limits) *Parser {
	limits = limits.WithDefaults()
	return &Parser{
		limits: limits,
		buf:    make([]byte, 0, limits.BufferSize),
	}
}

func (p *Parser) Limits() Limits {
	return p.limits
}

// Append copies as much of b as fits in the free capacity and returns the
// number of bytes taken.
func (p *Parser) Append(b []byte) int {
	p.Compact()
	free := p.limits.BufferSize - len(p.buf)
	n := len(b)
	if n > free {
		n = free
	}
	if n <= 0 {
		return 0
	}
	p.buf = append(p.buf, b[:n]...)
	return n
}

// Compact drops consumed bytes so the partial frame starts at offset 0.
func (p *Parser) Compact() {
	if p.start == 0 {
		return
	}
	n := copy(p.buf, p.buf[p.start:])
	p.buf = p.buf[:n]
	p.pos -= p.start
	p.start = 0
}

// Buffered returns the number of unconsumed bytes.
func (p *Parser) Buffered() int {
	return len(p.buf) - p.start
}

// Full reports whether the partial frame fills the whole buffer. Callers
// check it after Next returns false; a full buffer can never complete.
func (p *Parser) Full() bool {
	return p.Buffered() >= p.limits.BufferSize
}

// Discarded counts lines dropped because a complete header was invalid.
func (p *Parser) Discarded() uint64 {
	return p.discarded
}

func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.start = 0
	p.pos = 0
	p.st = scanState{}
}

// Next scans forward and returns the next complete message. It returns
// false when only a partial frame remains; scanning resumes from the same
// point after more bytes are appended.
func (p *Parser) Next() (protocol.Message, bool) {
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		switch p.st.phase {
		case phaseStart:
			if c == '\n' || c == '\r' {
				p.pos++
				p.start = p.pos
				continue
			}
			if c == '[' {
				p.st.phase = phaseHeader
				p.st.text = append(p.st.text, c)
				p.pos++
				continue
			}
			p.st.phase = phaseBody

		case phaseHeader:
			// Without a closing bracket the frame stays incomplete until
			// the buffer fills.
			p.pos++
			p.st.text = append(p.st.text, c)
			if c != ']' {
				continue
			}
			if !p.parseHeader() {
				p.st.phase = phaseDiscard
				continue
			}
			p.st.phase = phaseBody
			p.st.bodyStart = len(p.st.text)
			p.st.stmtStart = p.st.bodyStart

		case phaseDiscard:
			p.pos++
			if c == '\n' {
				p.discardLine()
			}

		case phaseBinary:
			n := len(p.buf) - p.pos
			if n > p.st.binRemaining {
				n = p.st.binRemaining
			}
			last := &p.st.bins[len(p.st.bins)-1]
			last.Data = append(last.Data, p.buf[p.pos:p.pos+n]...)
			p.pos += n
			p.st.binRemaining -= n
			if p.st.binRemaining == 0 {
				p.st.phase = phaseBody
			}

		case phaseBody:
			p.pos++
			if c == '\n' && p.st.depth == 0 && !p.st.inString {
				if p.blankLine() {
					p.start = p.pos
					p.st = scanState{}
					continue
				}
				return p.finish(), true
			}
			p.scanBody(c)
		}
	}
	return protocol.Message{}, false
}

func (p *Parser) scanBody(c byte) {
	st := &p.st
	st.text = append(st.text, c)
	if st.inString {
		switch {
		case st.escaped:
			st.escaped = false
		case c == '\\':
			st.escaped = true
		case c == '"':
			st.inString = false
		}
		return
	}
	switch c {
	case '"':
		st.inString = true
	case '[', '(', '{':
		st.depth++
		st.stmtStart = len(st.text)
	case ']', ')', '}':
		if st.depth > 0 {
			st.depth--
		}
	case ',':
		st.stmtStart = len(st.text)
	case ';':
		stmt := st.text[st.stmtStart : len(st.text)-1]
		st.stmtStart = len(st.text)
		size, header, ok := binaryDirective(stmt)
		if !ok {
			return
		}
		capHint := size
		if capHint > p.limits.BufferSize {
			capHint = p.limits.BufferSize
		}
		st.bins = append(st.bins, protocol.Binary{
			Header: header,
			Data:   make([]byte, 0, capHint),
		})
		if size > 0 {
			st.binRemaining = size
			st.phase = phaseBinary
		}
	}
}

// binaryDirective matches a statement of the form "BIN <size>[ <header>]".
func binaryDirective(stmt []byte) (int, string, bool) {
	fields := strings.Fields(string(stmt))
	if len(fields) < 2 || fields[0] != binaryKeyword {
		return 0, "", false
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil || size < 0 {
		return 0, "", false
	}
	return size, strings.Join(fields[2:], " "), true
}

// parseHeader validates "[timestamp:tag]" or "[timestamp]" held in text.
func (p *Parser) parseHeader() bool {
	inner := string(p.st.text[1 : len(p.st.text)-1])
	stamp, tag, hasTag := strings.Cut(inner, ":")
	if stamp == "" || strings.IndexFunc(stamp, notDigit) >= 0 {
		return false
	}
	ts, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return false
	}
	if hasTag && tag != "" {
		if err := protocol.ValidateTag(tag); err != nil {
			return false
		}
	}
	p.st.timestamp = ts
	p.st.tag = tag
	return true
}

func (p *Parser) finish() protocol.Message {
	st := &p.st
	raw := strings.TrimRight(string(st.text), "\r")
	body := strings.TrimSpace(string(st.text[st.bodyStart:]))

	msg := protocol.Message{
		Timestamp: st.timestamp,
		Tag:       st.tag,
		Raw:       raw,
	}
	switch {
	case strings.HasPrefix(body, protocol.SystemPrefix):
		msg.Kind = protocol.KindSystem
		msg.Text = strings.TrimSpace(body[len(protocol.SystemPrefix):])
	case strings.HasPrefix(body, protocol.ErrorPrefix):
		msg.Kind = protocol.KindError
		msg.Text = strings.TrimSpace(body[len(protocol.ErrorPrefix):])
	default:
		msg.Kind = protocol.KindData
		msg.Text = body
		msg.Value = &protocol.Value{Text: body, Binaries: st.bins}
	}

	p.start = p.pos
	p.st = scanState{}
	return msg
}

func (p *Parser) blankLine() bool {
	return p.st.bodyStart == 0 && len(p.st.bins) == 0 &&
		strings.TrimSpace(string(p.st.text)) == ""
}

func (p *Parser) discardLine() {
	p.discarded++
	p.start = p.pos
	p.st = scanState{}
}

func notDigit(r rune) bool {
	return r < '0' || r > '9'
}
