package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireValue is the tagged JSON form of a Value, used by every store so that a
// value read back keeps its kind.
type wireValue struct {
	Type   string          `json:"type"`
	Value  json.RawMessage `json:"value,omitempty"`
	Target *LinkTarget     `json:"target,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Type: v.kind.String()}
	var (
		payload any
		err     error
	)
	switch v.kind {
	case KindNull:
		return json.Marshal(w)
	case KindString:
		payload = v.str
	case KindNumber:
		payload = v.num
	case KindBool:
		payload = v.flag
	case KindDate:
		payload = v.date.Format(time.RFC3339Nano)
	case KindAttachments:
		payload = v.attachments
	case KindLinks:
		payload = v.links
	case KindLinkNames:
		payload = v.links
		t := v.target
		w.Target = &t
	default:
		return nil, fmt.Errorf("cannot marshal value of %s", v.kind)
	}
	w.Value, err = json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := parseKind(w.Type)
	if err != nil {
		return err
	}

	out := Value{kind: kind}
	switch kind {
	case KindNull:
	case KindString:
		err = json.Unmarshal(w.Value, &out.str)
	case KindNumber:
		err = json.Unmarshal(w.Value, &out.num)
	case KindBool:
		err = json.Unmarshal(w.Value, &out.flag)
	case KindDate:
		var s string
		if err = json.Unmarshal(w.Value, &s); err == nil {
			out.date, err = time.Parse(time.RFC3339Nano, s)
		}
	case KindAttachments:
		err = json.Unmarshal(w.Value, &out.attachments)
	case KindLinks:
		err = json.Unmarshal(w.Value, &out.links)
	case KindLinkNames:
		err = json.Unmarshal(w.Value, &out.links)
		if w.Target != nil {
			out.target = *w.Target
		}
	}
	if err != nil {
		return fmt.Errorf("decode %s value: %w", w.Type, err)
	}
	*v = out
	return nil
}
