package encoding

import (
	"strconv"
	"strings"

	"github.com/wippyai/multicall/errors"
)

// Encode renders ret and args as a full-signature encoding with the frame
// size and offsets a compiler targeting m would emit.
func Encode(m Model, ret *Type, args []*Type) string {
	total := 0
	for _, a := range args {
		total += a.frameAdvance(m)
	}

	var b strings.Builder
	b.WriteString(ret.text)
	b.WriteString(strconv.Itoa(total))
	off := 0
	for _, a := range args {
		b.WriteString(a.text)
		b.WriteString(strconv.Itoa(off))
		off += a.frameAdvance(m)
	}
	return b.String()
}

// encodable rejects tokens whose text ends in a digit, such as a pointer to
// a bitfield: the offset written after them would run into the width.
func encodable(ts ...*Type) error {
	for _, t := range ts {
		if n := len(t.text); n > 0 && isDigit(t.text[n-1]) {
			return errors.New(errors.PhaseParse, errors.KindUnsupported).
				Encoding(t.text).
				Detail("type %q cannot be followed by an offset", t.text).
				Build()
		}
	}
	return nil
}

// Build classifies each token and encodes them. The first argument is self.
func (p *Parser) Build(ret string, args ...string) (string, error) {
	rt, err := p.Classify(ret)
	if err != nil {
		return "", err
	}
	ats := make([]*Type, len(args))
	for i, a := range args {
		if ats[i], err = p.Classify(a); err != nil {
			return "", err
		}
	}
	if err := encodable(append([]*Type{rt}, ats...)...); err != nil {
		return "", err
	}
	enc := Encode(p.Model, rt, ats)
	// Round trip for the self and void-argument checks.
	if _, err := p.ParseMethod(enc); err != nil {
		return "", err
	}
	return enc, nil
}

// InsertSelector turns a block encoding into a method encoding by adding a
// selector argument after self. Offsets are recomputed.
func (p *Parser) InsertSelector(src string) (string, error) {
	mt, err := p.ParseMethod(src)
	if err != nil {
		return "", err
	}
	sel, err := p.Classify(":")
	if err != nil {
		return "", err
	}
	args := make([]*Type, 0, len(mt.Args)+1)
	args = append(args, mt.Args[0], sel)
	args = append(args, mt.Args[1:]...)
	if err := encodable(append([]*Type{mt.Return}, args...)...); err != nil {
		return "", err
	}
	return Encode(p.Model, mt.Return, args), nil
}

// Build encodes tokens under the host model.
func Build(ret string, args ...string) (string, error) {
	return hostParser.Build(ret, args...)
}

// InsertSelector inserts a selector argument under the host model.
func InsertSelector(src string) (string, error) {
	return hostParser.InsertSelector(src)
}
