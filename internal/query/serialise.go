package query

import (
	"encoding/binary"
	"math"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/postingsource"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

// Node tags of the serialised form.
const (
	tagTerm     = 'T'
	tagMatchAll = 'A'
	tagNode     = 'N'
	tagValue    = 'V'
	tagScale    = 'S'
	tagWildcard = 'W'
	tagSource   = 'P'
)

// maxDepth bounds recursion while decoding untrusted input.
const maxDepth = 1000

// Serialise encodes q into an opaque string that Unserialise turns back
// into an equivalent query. The empty query serialises to "".
// Posting sources with an empty Name cannot be serialised and cause a
// SerialisationError.
func (q Query) Serialise() (string, error) {
	if q.root == nil {
		return "", nil
	}
	buf, err := encodeNode(nil, q.root)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func encodeNode(buf []byte, n *node) ([]byte, error) {
	var err error
	switch n.op {
	case OpLeafTerm:
		buf = append(buf, tagTerm)
		buf = appendString(buf, n.term)
		buf = binary.AppendUvarint(buf, uint64(n.wqf))
		buf = binary.AppendUvarint(buf, uint64(n.pos))
	case OpLeafMatchAll:
		buf = append(buf, tagMatchAll)
		buf = binary.AppendUvarint(buf, uint64(n.wqf))
		buf = binary.AppendUvarint(buf, uint64(n.pos))
	case OpLeafPostingSource:
		name := n.source.Name()
		if name == "" {
			return nil, qerrors.Newf(qerrors.ErrSerialisation,
				"posting source %s does not support serialisation", n.source.Description())
		}
		buf = append(buf, tagSource)
		buf = appendString(buf, name)
		buf = appendString(buf, n.source.Serialise())
	case OpValueRange, OpValueGE, OpValueLE:
		buf = append(buf, tagValue, byte(n.op))
		buf = binary.AppendUvarint(buf, uint64(n.slot))
		buf = appendString(buf, n.lo)
		buf = appendString(buf, n.hi)
	case OpScaleWeight:
		buf = append(buf, tagScale)
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(n.factor))
		return encodeNode(buf, n.children[0])
	case OpWildcard:
		buf = append(buf, tagWildcard)
		buf = appendString(buf, n.term)
		buf = binary.AppendUvarint(buf, uint64(n.maxExp))
		buf = append(buf, byte(n.combiner))
	default:
		buf = append(buf, tagNode, byte(n.op))
		buf = binary.AppendUvarint(buf, uint64(n.window))
		buf = binary.AppendUvarint(buf, uint64(len(n.children)))
		for _, c := range n.children {
			if buf, err = encodeNode(buf, c); err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

// Unserialise rebuilds a query produced by Serialise. Posting sources are
// looked up in reg; a nil reg knows only the built-in sources.
func Unserialise(s string, reg *postingsource.Registry) (Query, error) {
	if s == "" {
		return Query{}, nil
	}
	if reg == nil {
		reg = postingsource.NewRegistry()
	}
	d := &decoder{buf: []byte(s), reg: reg}
	n, err := d.node(0)
	if err != nil {
		return Query{}, err
	}
	if d.pos != len(d.buf) {
		return Query{}, d.fail("trailing data")
	}
	return Query{root: n}, nil
}

type decoder struct {
	buf []byte
	pos int
	reg *postingsource.Registry
}

func (d *decoder) fail(what string) error {
	return qerrors.Newf(qerrors.ErrSerialisation, "bad serialised query at byte %d: %s", d.pos, what)
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, d.fail("unexpected end of data")
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readUvarint(limit uint64) (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, d.fail("bad varint")
	}
	if v > limit {
		return 0, d.fail("value out of range")
	}
	d.pos += n
	return v, nil
}

func (d *decoder) readUint32() (uint32, error) {
	v, err := d.readUvarint(math.MaxUint32)
	return uint32(v), err
}

func (d *decoder) readString() (string, error) {
	l, err := d.readUvarint(math.MaxInt32)
	if err != nil {
		return "", err
	}
	if l > uint64(len(d.buf)-d.pos) {
		return "", d.fail("truncated string")
	}
	s := string(d.buf[d.pos : d.pos+int(l)])
	d.pos += int(l)
	return s, nil
}

func (d *decoder) node(depth int) (*node, error) {
	if depth > maxDepth {
		return nil, d.fail("query nested too deeply")
	}
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagTerm:
		n := &node{op: OpLeafTerm}
		if n.term, err = d.readString(); err != nil {
			return nil, err
		}
		if n.term == "" {
			return nil, d.fail("empty term")
		}
		if n.wqf, err = d.readUint32(); err != nil {
			return nil, err
		}
		if n.pos, err = d.readUint32(); err != nil {
			return nil, err
		}
		return n, nil
	case tagMatchAll:
		n := &node{op: OpLeafMatchAll}
		if n.wqf, err = d.readUint32(); err != nil {
			return nil, err
		}
		if n.pos, err = d.readUint32(); err != nil {
			return nil, err
		}
		return n, nil
	case tagSource:
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		data, err := d.readString()
		if err != nil {
			return nil, err
		}
		src, err := d.reg.Unserialise(name, data)
		if err != nil {
			return nil, err
		}
		return &node{op: OpLeafPostingSource, source: src}, nil
	case tagValue:
		op, err := d.readByte()
		if err != nil {
			return nil, err
		}
		n := &node{op: Op(op)}
		switch n.op {
		case OpValueRange, OpValueGE, OpValueLE:
		default:
			return nil, d.fail("bad value operator")
		}
		slot, err := d.readUint32()
		if err != nil {
			return nil, err
		}
		n.slot = index.Slot(slot)
		if n.lo, err = d.readString(); err != nil {
			return nil, err
		}
		if n.hi, err = d.readString(); err != nil {
			return nil, err
		}
		return n, nil
	case tagScale:
		if len(d.buf)-d.pos < 8 {
			return nil, d.fail("truncated scale factor")
		}
		factor := math.Float64frombits(binary.BigEndian.Uint64(d.buf[d.pos:]))
		d.pos += 8
		if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
			return nil, d.fail("bad scale factor")
		}
		child, err := d.node(depth + 1)
		if err != nil {
			return nil, err
		}
		return &node{op: OpScaleWeight, factor: factor, children: []*node{child}}, nil
	case tagWildcard:
		n := &node{op: OpWildcard}
		if n.term, err = d.readString(); err != nil {
			return nil, err
		}
		if n.maxExp, err = d.readUint32(); err != nil {
			return nil, err
		}
		c, err := d.readByte()
		if err != nil {
			return nil, err
		}
		n.combiner = Op(c)
		switch n.combiner {
		case OpSynonym, OpOr, OpMax:
		default:
			return nil, d.fail("bad wildcard combiner")
		}
		return n, nil
	case tagNode:
		op, err := d.readByte()
		if err != nil {
			return nil, err
		}
		n := &node{op: Op(op)}
		switch n.op {
		case OpAnd, OpOr, OpAndNot, OpXor, OpAndMaybe, OpFilter,
			OpNear, OpPhrase, OpEliteSet, OpSynonym, OpMax:
		default:
			return nil, d.fail("bad operator")
		}
		if n.window, err = d.readUint32(); err != nil {
			return nil, err
		}
		count, err := d.readUvarint(math.MaxInt32)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, d.fail("operator without subqueries")
		}
		// Every subquery takes at least one byte.
		if count > uint64(len(d.buf)-d.pos) {
			return nil, d.fail("truncated subqueries")
		}
		n.children = make([]*node, 0, count)
		for range count {
			child, err := d.node(depth + 1)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		}
		return n, nil
	default:
		return nil, d.fail("unknown node tag")
	}
}
