package encoding

import (
	"strings"

	"github.com/wippyai/multicall/errors"
)

const (
	maxDepth    = 64
	maxNumber   = 1 << 30
	maxTypeSize = 1 << 31
)

// qualifiers precede a type without changing its classification:
// const, in, inout, out, bycopy, byref, oneway, atomic.
const qualifiers = "rnNoORVA"

// primitives are the single-character type codes.
const primitives = "cCsSiIlLqQfdDBv*#:"

// MethodType is a parsed full-signature encoding: a return type, the
// arguments including self at index 0, and their frame offsets.
type MethodType struct {
	Return *Type
	Source string
	Model  Model
	Args   []*Type
	// Offsets holds the declared offsets, or computed ones when the encoding
	// carried none. A negative declared offset marks a register argument.
	Offsets   []int
	FrameSize int
	Declared  bool
}

// Parser parses encodings under a fixed data model.
type Parser struct {
	Model Model
}

// NewParser creates a parser for the given data model.
func NewParser(m Model) *Parser {
	return &Parser{Model: m}
}

var hostParser = NewParser(Host)

// ParseMethod parses a full-signature encoding under the host model.
func ParseMethod(src string) (*MethodType, error) {
	return hostParser.ParseMethod(src)
}

// Classify parses exactly one type token under the host model.
func Classify(token string) (*Type, error) {
	return hostParser.Classify(token)
}

// ParseMethod consumes the return type, the optional frame size and then
// argument tokens, each optionally followed by its offset, until the input
// is exhausted.
func (p *Parser) ParseMethod(src string) (*MethodType, error) {
	s := &scanner{src: src, model: p.Model}
	if len(src) == 0 {
		return nil, s.errorf("empty encoding")
	}

	ret, err := s.parseType(false)
	if err != nil {
		return nil, err
	}

	framePos := s.pos
	frame, declared, signed, err := s.readOffset()
	if err != nil {
		return nil, err
	}
	if signed {
		return nil, s.errorAt(framePos, "frame size cannot be signed")
	}

	mt := &MethodType{
		Return:    ret,
		Source:    src,
		Model:     p.Model,
		FrameSize: frame,
		Declared:  declared,
	}

	var offsetPos []int
	var register []bool
	selfPos := s.pos
	for !s.eof() {
		argPos := s.pos
		t, err := s.parseType(false)
		if err != nil {
			return nil, err
		}
		if t.kind == KindVoid {
			return nil, s.errorAt(argPos, "argument %d is void", len(mt.Args))
		}

		offPos := s.pos
		off, present, signed, err := s.readOffset()
		if err != nil {
			return nil, err
		}
		if present != declared {
			if declared {
				return nil, s.errorAt(offPos, "missing offset after argument %d", len(mt.Args))
			}
			return nil, s.errorAt(offPos, "unexpected offset after argument %d", len(mt.Args))
		}

		mt.Args = append(mt.Args, t)
		mt.Offsets = append(mt.Offsets, off)
		offsetPos = append(offsetPos, offPos)
		register = append(register, signed)
	}

	if len(mt.Args) == 0 {
		return nil, s.errorAt(len(src), "missing self argument")
	}
	// Slot 0 carries the callable's context, which is pointer sized.
	switch self := mt.Args[0]; self.kind {
	case KindObject, KindPointer, KindCString:
	default:
		return nil, s.errorAt(selfPos, "self argument must be an object or pointer, not %s", self.kind)
	}

	running := 0
	anyRegister := false
	for i, t := range mt.Args {
		switch {
		case !declared:
			mt.Offsets[i] = running
		case register[i]:
			anyRegister = true
		case mt.Offsets[i] != running:
			return nil, s.errorAt(offsetPos[i], "argument %d at offset %d, expected %d", i, mt.Offsets[i], running)
		}
		running += t.frameAdvance(p.Model)
	}

	switch {
	case !declared:
		mt.FrameSize = running
	case !anyRegister && frame != running:
		return nil, s.errorAt(framePos, "frame size %d, expected %d", frame, running)
	}

	return mt, nil
}

// Classify parses exactly one type token. Qualifiers are allowed, trailing
// input is not.
func (p *Parser) Classify(token string) (*Type, error) {
	s := &scanner{src: token, model: p.Model}
	t, err := s.parseType(false)
	if err != nil {
		return nil, err
	}
	if !s.eof() {
		return nil, s.errorf("trailing input after type %q", t.text)
	}
	return t, nil
}

// Skip walks past one complete type token starting at pos, and past the
// offset that may follow it, without building a Type. It returns the
// position of the next token.
func Skip(src string, pos int) (int, error) {
	s := &scanner{src: src, pos: pos}
	if pos < 0 || pos > len(src) {
		return 0, errors.OutOfBounds(errors.PhaseParse, nil, pos, len(src))
	}
	if err := s.skipType(); err != nil {
		return 0, err
	}
	if _, _, _, err := s.readOffset(); err != nil {
		return 0, err
	}
	return s.pos, nil
}

// FindArgument returns the position of argument idx in a full-signature
// encoding. Index 0 is self.
func FindArgument(src string, idx int) (int, error) {
	s := &scanner{src: src}
	if idx < 0 {
		return 0, errors.OutOfBounds(errors.PhaseParse, nil, idx, 0)
	}
	if err := s.skipType(); err != nil {
		return 0, err
	}
	if _, _, _, err := s.readOffset(); err != nil {
		return 0, err
	}
	for i := 0; i < idx; i++ {
		if s.eof() {
			return 0, errors.OutOfBounds(errors.PhaseParse, nil, idx, i)
		}
		if err := s.skipType(); err != nil {
			return 0, err
		}
		if _, _, _, err := s.readOffset(); err != nil {
			return 0, err
		}
	}
	if s.eof() {
		return 0, errors.OutOfBounds(errors.PhaseParse, nil, idx, idx)
	}
	return s.pos, nil
}

// ArgumentType returns the token text of argument idx, without its offset.
func ArgumentType(src string, idx int) (string, error) {
	start, err := FindArgument(src, idx)
	if err != nil {
		return "", err
	}
	s := &scanner{src: src, pos: start}
	if err := s.skipType(); err != nil {
		return "", err
	}
	return src[start:s.pos], nil
}

// ReturnType returns the token text of the return type.
func ReturnType(src string) (string, error) {
	s := &scanner{src: src}
	if err := s.skipType(); err != nil {
		return "", err
	}
	return src[:s.pos], nil
}

type scanner struct {
	src   string
	model Model
	pos   int
	depth int
	// lenient is non-zero while parsing a pointee, where opaque aggregates,
	// bitfields and unknown types only need to be walked over.
	lenient int
}

func (s *scanner) eof() bool {
	return s.pos >= len(s.src)
}

func (s *scanner) errorf(format string, args ...any) error {
	return errors.MalformedEncoding(s.src, s.pos, format, args...)
}

func (s *scanner) errorAt(pos int, format string, args ...any) error {
	return errors.MalformedEncoding(s.src, pos, format, args...)
}

func (s *scanner) skipQualifiers() {
	for !s.eof() && strings.IndexByte(qualifiers, s.src[s.pos]) >= 0 {
		s.pos++
	}
}

// parseType parses one type token. named is set inside aggregates whose
// members carry quoted names, where @"..." is ambiguous.
func (s *scanner) parseType(named bool) (*Type, error) {
	s.depth++
	defer func() { s.depth-- }()
	if s.depth > maxDepth {
		return nil, s.errorf("nesting deeper than %d", maxDepth)
	}

	start := s.pos
	s.skipQualifiers()
	if s.eof() {
		return nil, s.errorf("expected type")
	}

	c := s.src[s.pos]
	t := &Type{code: c}
	switch c {
	case 'c', 's', 'i', 'l', 'q':
		t.kind = KindInt
		t.size = primitiveSize(c)
		s.pos++
	case 'C', 'S', 'I', 'L', 'Q', 'B':
		t.kind = KindUint
		t.size = primitiveSize(c)
		s.pos++
	case 'f', 'd', 'D':
		t.kind = KindFloat
		s.pos++
	case 'v':
		t.kind = KindVoid
		s.pos++
	case '*':
		t.kind = KindCString
		s.pos++
	case '#':
		t.kind = KindObject
		s.pos++
	case ':':
		t.kind = KindPointer
		s.pos++
	case '@':
		t.kind = KindObject
		s.pos++
		if err := s.parseObjectSuffix(t, named); err != nil {
			return nil, err
		}
	case '^':
		t.kind = KindPointer
		s.pos++
		if !s.eof() && s.src[s.pos] == '?' {
			s.pos++
			break
		}
		s.lenient++
		elem, err := s.parseType(false)
		s.lenient--
		if err != nil {
			return nil, err
		}
		t.elem = elem
	case '{', '(':
		if err := s.parseAggregate(t); err != nil {
			return nil, err
		}
	case '[':
		if err := s.parseArray(t); err != nil {
			return nil, err
		}
	case 'b':
		if s.lenient == 0 {
			return nil, s.errorf("bitfields are not supported")
		}
		s.pos++
		if _, ok, err := s.readDigits(); err != nil {
			return nil, err
		} else if !ok {
			return nil, s.errorf("missing bitfield width")
		}
		t.kind = KindUnknown
	case '?':
		if s.lenient == 0 {
			return nil, s.errorf("unknown type cannot be classified")
		}
		s.pos++
		t.kind = KindUnknown
	default:
		return nil, s.errorf("unrecognized type code %q", c)
	}

	t.text = s.src[start:s.pos]
	t.size, t.align = t.layout(s.model)
	if t.size > maxTypeSize {
		return nil, s.errorAt(start, "type %q is too large", t.text)
	}
	return t, nil
}

func (s *scanner) parseObjectSuffix(t *Type, named bool) error {
	if s.eof() {
		return nil
	}
	switch s.src[s.pos] {
	case '?':
		s.pos++
		t.block = true
		if !s.eof() && s.src[s.pos] == '<' {
			end, err := s.matchAngle(s.pos)
			if err != nil {
				return err
			}
			s.pos = end + 1
		}
	case '"':
		end := strings.IndexByte(s.src[s.pos+1:], '"')
		if end < 0 {
			return s.errorf("unterminated class name")
		}
		end += s.pos + 1
		if named && end+1 < len(s.src) {
			// Inside a named aggregate the quotes may open the next member's
			// name rather than a class name.
			switch s.src[end+1] {
			case '"', '}', ')':
			default:
				return nil
			}
		}
		t.name = s.src[s.pos+1 : end]
		s.pos = end + 1
	}
	return nil
}

func (s *scanner) matchAngle(open int) (int, error) {
	depth := 0
	for i := open; i < len(s.src); i++ {
		switch s.src[i] {
		case '<':
			depth++
			if depth > maxDepth {
				return 0, s.errorAt(i, "nesting deeper than %d", maxDepth)
			}
		case '>':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, s.errorAt(len(s.src), "unterminated block signature")
}

func (s *scanner) parseAggregate(t *Type) error {
	closer := byte('}')
	t.kind = KindStruct
	if s.src[s.pos] == '(' {
		closer = ')'
		t.kind = KindUnion
	}
	s.pos++

	nameStart := s.pos
	for !s.eof() && s.src[s.pos] != '=' && s.src[s.pos] != closer {
		if strings.IndexByte(`{}()[]"`, s.src[s.pos]) >= 0 {
			return s.errorf("unexpected %q in %s tag", s.src[s.pos], t.kind)
		}
		s.pos++
	}
	if s.eof() {
		return s.errorf("unterminated %s", t.kind)
	}
	t.name = s.src[nameStart:s.pos]

	if s.src[s.pos] == closer {
		s.pos++
		t.opaque = true
		if s.lenient == 0 {
			return s.errorAt(nameStart-1, "%s %q has no members and cannot be passed by value", t.kind, t.name)
		}
		return nil
	}
	s.pos++ // '='

	named := false
	for {
		if s.eof() {
			return s.errorf("unterminated %s", t.kind)
		}
		if s.src[s.pos] == closer {
			s.pos++
			break
		}

		var fieldName string
		if s.src[s.pos] == '"' {
			end := strings.IndexByte(s.src[s.pos+1:], '"')
			if end < 0 {
				return s.errorf("unterminated member name")
			}
			fieldName = s.src[s.pos+1 : s.pos+1+end]
			s.pos += end + 2
			named = true
		}

		memberPos := s.pos
		ft, err := s.parseType(named)
		if err != nil {
			return err
		}
		if ft.kind == KindVoid {
			return s.errorAt(memberPos, "%s member cannot be void", t.kind)
		}
		t.fields = append(t.fields, Field{Name: fieldName, Type: ft})
	}

	offsets := t.FieldOffsetsIn(s.model)
	for i := range t.fields {
		t.fields[i].Offset = offsets[i]
	}
	return nil
}

func (s *scanner) parseArray(t *Type) error {
	t.kind = KindArray
	s.pos++ // '['

	n, ok, err := s.readDigits()
	if err != nil {
		return err
	}
	if !ok {
		return s.errorf("missing array count")
	}

	elemPos := s.pos
	elem, err := s.parseType(false)
	if err != nil {
		return err
	}
	if elem.kind == KindVoid {
		return s.errorAt(elemPos, "array element cannot be void")
	}
	if s.eof() || s.src[s.pos] != ']' {
		return s.errorf("unterminated array")
	}
	s.pos++

	t.count = n
	t.elem = elem
	return nil
}

func (s *scanner) readDigits() (int, bool, error) {
	start := s.pos
	n := 0
	for !s.eof() && isDigit(s.src[s.pos]) {
		n = n*10 + int(s.src[s.pos]-'0')
		if n > maxNumber {
			return 0, false, s.errorAt(start, "number too large")
		}
		s.pos++
	}
	return n, s.pos > start, nil
}

// readOffset reads an optional, optionally signed, decimal offset.
func (s *scanner) readOffset() (off int, present, signed bool, err error) {
	neg := false
	if !s.eof() && (s.src[s.pos] == '-' || s.src[s.pos] == '+') {
		signed = true
		neg = s.src[s.pos] == '-'
		s.pos++
	}
	n, ok, err := s.readDigits()
	if err != nil {
		return 0, false, false, err
	}
	if signed && !ok {
		return 0, false, false, s.errorf("missing digit after sign")
	}
	if neg {
		n = -n
	}
	return n, ok, signed, nil
}

// skipType mirrors parseType without evaluating the token.
func (s *scanner) skipType() error {
	s.depth++
	defer func() { s.depth-- }()
	if s.depth > maxDepth {
		return s.errorf("nesting deeper than %d", maxDepth)
	}

	s.skipQualifiers()
	if s.eof() {
		return s.errorf("expected type")
	}

	c := s.src[s.pos]
	switch {
	case c == '@':
		s.pos++
		if s.eof() {
			return nil
		}
		switch s.src[s.pos] {
		case '?':
			s.pos++
			if !s.eof() && s.src[s.pos] == '<' {
				end, err := s.matchAngle(s.pos)
				if err != nil {
					return err
				}
				s.pos = end + 1
			}
		case '"':
			end := strings.IndexByte(s.src[s.pos+1:], '"')
			if end < 0 {
				return s.errorf("unterminated class name")
			}
			s.pos += end + 2
		}
		return nil
	case c == '^':
		s.pos++
		if !s.eof() && s.src[s.pos] == '?' {
			s.pos++
			return nil
		}
		return s.skipType()
	case c == '{' || c == '(' || c == '[':
		return s.skipBalanced()
	case c == 'b':
		s.pos++
		if _, ok, err := s.readDigits(); err != nil {
			return err
		} else if !ok {
			return s.errorf("missing bitfield width")
		}
		return nil
	case strings.IndexByte(primitives, c) >= 0:
		s.pos++
		return nil
	}
	return s.errorf("unrecognized type code %q", c)
}

// skipBalanced walks to the bracket closing the one at s.pos, stepping over
// quoted names.
func (s *scanner) skipBalanced() error {
	var closers []byte
	for !s.eof() {
		switch c := s.src[s.pos]; c {
		case '{', '(', '[':
			if len(closers) >= maxDepth {
				return s.errorf("nesting deeper than %d", maxDepth)
			}
			closers = append(closers, closerOf(c))
		case '}', ')', ']':
			if len(closers) == 0 || closers[len(closers)-1] != c {
				return s.errorf("unbalanced %q", c)
			}
			closers = closers[:len(closers)-1]
			if len(closers) == 0 {
				s.pos++
				return nil
			}
		case '"':
			end := strings.IndexByte(s.src[s.pos+1:], '"')
			if end < 0 {
				return s.errorf("unterminated name")
			}
			s.pos += end + 1
		}
		s.pos++
	}
	return s.errorf("unterminated aggregate")
}

func closerOf(c byte) byte {
	switch c {
	case '{':
		return '}'
	case '(':
		return ')'
	}
	return ']'
}

func primitiveSize(c byte) int {
	switch c {
	case 'c', 'C', 'B':
		return 1
	case 's', 'S':
		return 2
	case 'i', 'I', 'l', 'L':
		return 4
	case 'q', 'Q':
		return 8
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
