package record

import (
	"encoding/base64"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
	KindAttachments
	KindLinks
	// KindLinkNames is an unresolved link: entity names that still have to be
	// turned into IDs by the reconciler before the value can be written.
	KindLinkNames
)

var kindNames = map[Kind]string{
	KindNull:        "null",
	KindString:      "string",
	KindNumber:      "number",
	KindBool:        "bool",
	KindDate:        "date",
	KindAttachments: "attachments",
	KindLinks:       "links",
	KindLinkNames:   "link_names",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func parseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindNull, fmt.Errorf("unknown value type %q", s)
}

// Attachment is a file cell entry. Payloads that only exist in memory are
// carried as data: URLs.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// LinkTarget names the secondary table a link points into and the field
// holding the entity name.
type LinkTarget struct {
	Table     string `json:"table" yaml:"table"`
	NameField string `json:"name_field" yaml:"name_field"`
	// Fold enables case-normalized name matching.
	Fold bool `json:"fold,omitempty" yaml:"fold"`
}

// Value is a single typed cell value. The zero Value is Null.
type Value struct {
	kind        Kind
	str         string
	num         float64
	flag        bool
	date        time.Time
	attachments []Attachment
	links       []string
	target      LinkTarget
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func Int(n int64) Value { return Value{kind: KindNumber, num: float64(n)} }

func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

func Date(t time.Time) Value { return Value{kind: KindDate, date: t.UTC()} }

func Attachments(files ...Attachment) Value {
	return Value{kind: KindAttachments, attachments: slices.Clone(files)}
}

// Links references rows of another table by ID.
func Links(ids ...string) Value {
	return Value{kind: KindLinks, links: slices.Clone(ids)}
}

// NamedLinks references rows of target by name. Duplicate names are kept
// once, in first-seen order.
func NamedLinks(target LinkTarget, names ...string) Value {
	seen := make(map[string]struct{}, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		uniq = append(uniq, n)
	}
	return Value{kind: KindLinkNames, links: uniq, target: target}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

func (v Value) AsInt() (int64, bool) { return int64(v.num), v.kind == KindNumber }

func (v Value) AsBool() (bool, bool) { return v.flag, v.kind == KindBool }

func (v Value) AsDate() (time.Time, bool) { return v.date, v.kind == KindDate }

func (v Value) AsAttachments() ([]Attachment, bool) {
	return slices.Clone(v.attachments), v.kind == KindAttachments
}

func (v Value) AsLinks() ([]string, bool) {
	return slices.Clone(v.links), v.kind == KindLinks
}

// AsLinkNames returns the unresolved names together with their target.
func (v Value) AsLinkNames() ([]string, LinkTarget, bool) {
	return slices.Clone(v.links), v.target, v.kind == KindLinkNames
}

// Text renders v the way a spreadsheet cell shows it as a string.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindDate:
		return v.date.Format(time.RFC3339)
	case KindAttachments:
		parts := make([]string, 0, len(v.attachments))
		for _, a := range v.attachments {
			if a.Filename != "" {
				parts = append(parts, a.Filename)
			} else {
				parts = append(parts, a.URL)
			}
		}
		return strings.Join(parts, ", ")
	case KindLinks, KindLinkNames:
		return strings.Join(v.links, ", ")
	}
	return ""
}

// Equal reports whether v and o hold the same variant and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.flag == o.flag
	case KindDate:
		return v.date.Equal(o.date)
	case KindAttachments:
		return slices.Equal(v.attachments, o.attachments)
	case KindLinks:
		return slices.Equal(v.links, o.links)
	case KindLinkNames:
		return v.target == o.target && slices.Equal(v.links, o.links)
	}
	return false
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "<null>"
	}
	return v.kind.String() + ":" + v.Text()
}

// NumberFromString parses s as a number. Empty, unparseable or non-finite
// input yields Null rather than zero.
func NumberFromString(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null()
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return Null()
	}
	return Number(n)
}

// NumberFromAny converts a decoded JSON scalar into a number value. APIs
// like YouTube report counters as strings, others as numbers.
func NumberFromAny(x any) Value {
	switch n := x.(type) {
	case nil:
		return Null()
	case float64:
		return Number(n)
	case float32:
		return Number(float64(n))
	case int:
		return Int(int64(n))
	case int64:
		return Int(n)
	case string:
		return NumberFromString(n)
	case fmt.Stringer:
		return NumberFromString(n.String())
	}
	return Null()
}

// StringOrNull returns Null for blank strings.
func StringOrNull(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Null()
	}
	return String(s)
}

// DateFromString parses RFC3339, RFC1123Z (RSS) and a few common layouts.
// Unparseable input yields Null.
func DateFromString(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return Null()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Date(t)
		}
	}
	return Null()
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// DataURL encodes payload as a base64 data: URL.
func DataURL(mime string, payload []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload)
}
