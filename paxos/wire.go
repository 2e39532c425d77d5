package paxos

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Messages and instance states are encoded in the protobuf wire format.
// Ballots and values are zigzag varints, fields this version does not know are skipped.

const (
	fieldInstance protowire.Number = 1
	fieldBallot   protowire.Number = 2
	fieldFrom     protowire.Number = 3
	// fourth field of the message, its meaning depends on the type
	fieldExtra protowire.Number = 4
	// proposal accepted by the sender of a Gather
	fieldAccepted protowire.Number = 5
)

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSvarint(b []byte, num protowire.Number, v int64) []byte {
	return appendUvarint(b, num, protowire.EncodeZigZag(v))
}

func appendMessage(b []byte, num protowire.Number, nested []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, nested)
}

// fieldDecoder is handed every varint field, with raw == nil, and every length delimited field
type fieldDecoder func(num protowire.Number, v uint64, raw []byte) error

func consumeFields(b []byte, decode fieldDecoder) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := decode(num, v, nil); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := decode(num, 0, raw); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func signed(v uint64) int64 {
	return protowire.DecodeZigZag(v)
}

func (p Proposal) AppendWire(b []byte) []byte {
	b = appendSvarint(b, fieldBallot, int64(p.Ballot))
	return appendSvarint(b, fieldExtra, int64(p.Value))
}

func (p *Proposal) UnmarshalWire(b []byte) error {
	*p = Proposal{}
	return consumeFields(b, func(num protowire.Number, v uint64, raw []byte) error {
		switch {
		case num == fieldBallot && raw == nil:
			p.Ballot = Ballot(signed(v))
		case num == fieldExtra && raw == nil:
			p.Value = Value(signed(v))
		}
		return nil
	})
}

// decodeAccepted decodes an optional nested proposal
func decodeAccepted(raw []byte, what string) (*Proposal, error) {
	var accepted Proposal
	if err := accepted.UnmarshalWire(raw); err != nil {
		return nil, fmt.Errorf("decoding accepted proposal of %s: %w", what, err)
	}
	return &accepted, nil
}

func (s InstanceState) AppendWire(b []byte) []byte {
	b = appendSvarint(b, fieldBallot, int64(s.ReadBallot))
	b = appendSvarint(b, fieldFrom, int64(s.Proposed))
	b = appendSvarint(b, fieldExtra, int64(s.ImposeBallot))
	if s.Accepted != nil {
		b = appendMessage(b, fieldAccepted, s.Accepted.AppendWire(nil))
	}
	return b
}

func (s *InstanceState) UnmarshalWire(b []byte) error {
	*s = InstanceState{}
	return consumeFields(b, func(num protowire.Number, v uint64, raw []byte) error {
		var err error
		switch {
		case num == fieldBallot && raw == nil:
			s.ReadBallot = Ballot(signed(v))
		case num == fieldFrom && raw == nil:
			s.Proposed = Ballot(signed(v))
		case num == fieldExtra && raw == nil:
			s.ImposeBallot = Ballot(signed(v))
		case num == fieldAccepted && raw != nil:
			s.Accepted, err = decodeAccepted(raw, "instance state")
		}
		return err
	})
}

// header holds the fields every protocol message starts with
type header struct {
	instance uint64
	ballot   Ballot
	from     int
}

func (h header) append(b []byte) []byte {
	b = appendUvarint(b, fieldInstance, h.instance)
	b = appendSvarint(b, fieldBallot, int64(h.ballot))
	return appendSvarint(b, fieldFrom, int64(h.from))
}

// decode fills h from the header fields of b and hands the other fields to extra
func (h *header) decode(b []byte, extra fieldDecoder) error {
	return consumeFields(b, func(num protowire.Number, v uint64, raw []byte) error {
		if raw == nil {
			switch num {
			case fieldInstance:
				h.instance = v
				return nil
			case fieldBallot:
				h.ballot = Ballot(signed(v))
				return nil
			case fieldFrom:
				h.from = int(signed(v))
				return nil
			}
		}
		if extra == nil {
			return nil
		}
		return extra(num, v, raw)
	})
}

func (m Read) AppendWire(b []byte) []byte {
	return header{m.Instance, m.Ballot, m.From}.append(b)
}

func (m *Read) UnmarshalWire(b []byte) error {
	var h header
	err := h.decode(b, nil)
	*m = Read{Instance: h.instance, Ballot: h.ballot, From: h.from}
	return err
}

func (m Gather) AppendWire(b []byte) []byte {
	b = header{m.Instance, m.Ballot, m.From}.append(b)
	b = appendSvarint(b, fieldExtra, int64(m.ImposeBallot))
	if m.Accepted != nil {
		b = appendMessage(b, fieldAccepted, m.Accepted.AppendWire(nil))
	}
	return b
}

func (m *Gather) UnmarshalWire(b []byte) error {
	var h header
	var imposeBallot Ballot
	var accepted *Proposal
	err := h.decode(b, func(num protowire.Number, v uint64, raw []byte) error {
		var err error
		switch {
		case num == fieldExtra && raw == nil:
			imposeBallot = Ballot(signed(v))
		case num == fieldAccepted && raw != nil:
			accepted, err = decodeAccepted(raw, "gather")
		}
		return err
	})
	*m = Gather{Instance: h.instance, Ballot: h.ballot, ImposeBallot: imposeBallot, Accepted: accepted, From: h.from}
	return err
}

func (m Impose) AppendWire(b []byte) []byte {
	b = header{m.Instance, m.Ballot, m.From}.append(b)
	return appendSvarint(b, fieldExtra, int64(m.Value))
}

func (m *Impose) UnmarshalWire(b []byte) error {
	var h header
	var value Value
	err := h.decode(b, func(num protowire.Number, v uint64, raw []byte) error {
		if num == fieldExtra && raw == nil {
			value = Value(signed(v))
		}
		return nil
	})
	*m = Impose{Instance: h.instance, Ballot: h.ballot, Value: value, From: h.from}
	return err
}

func (m Ack) AppendWire(b []byte) []byte {
	return header{m.Instance, m.Ballot, m.From}.append(b)
}

func (m *Ack) UnmarshalWire(b []byte) error {
	var h header
	err := h.decode(b, nil)
	*m = Ack{Instance: h.instance, Ballot: h.ballot, From: h.from}
	return err
}

func (m Abort) AppendWire(b []byte) []byte {
	return header{m.Instance, m.Ballot, m.From}.append(b)
}

func (m *Abort) UnmarshalWire(b []byte) error {
	var h header
	err := h.decode(b, nil)
	*m = Abort{Instance: h.instance, Ballot: h.ballot, From: h.from}
	return err
}

// Decide has no ballot, the value takes its field
func (m Decide) AppendWire(b []byte) []byte {
	return header{m.Instance, Ballot(m.Value), m.From}.append(b)
}

func (m *Decide) UnmarshalWire(b []byte) error {
	var h header
	err := h.decode(b, nil)
	*m = Decide{Instance: h.instance, Value: Value(h.ballot), From: h.from}
	return err
}

// Launch carries its value only when the caller chose one
func (m Launch) AppendWire(b []byte) []byte {
	b = appendUvarint(b, fieldInstance, m.Instance)
	if m.Value != nil {
		b = appendSvarint(b, fieldExtra, int64(*m.Value))
	}
	return b
}

func (m *Launch) UnmarshalWire(b []byte) error {
	*m = Launch{}
	return consumeFields(b, func(num protowire.Number, v uint64, raw []byte) error {
		if raw != nil {
			return nil
		}
		switch num {
		case fieldInstance:
			m.Instance = v
		case fieldExtra:
			value := Value(signed(v))
			m.Value = &value
		}
		return nil
	})
}
