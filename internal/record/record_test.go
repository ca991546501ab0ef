package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberFromAny(t *testing.T) {
	testCases := []struct {
		in       any
		expected Value
	}{
		{in: "42", expected: Int(42)},
		{in: " 7 ", expected: Int(7)},
		{in: float64(3.5), expected: Number(3.5)},
		{in: json.Number("12"), expected: Int(12)},
		{in: "", expected: Null()},
		{in: nil, expected: Null()},
		{in: "n/a", expected: Null()},
		{in: []string{"1"}, expected: Null()},
	}

	for _, test := range testCases {
		got := NumberFromAny(test.in)
		assert.Truef(t, test.expected.Equal(got), "NumberFromAny(%#v) = %s, want %s", test.in, got, test.expected)
	}
}

func TestNumberFromStringRejectsNonFinite(t *testing.T) {
	for _, in := range []string{"NaN", "nan", "Inf", "+Inf", "-Infinity", "1e999"} {
		assert.Truef(t, NumberFromString(in).IsNull(), "NumberFromString(%q)", in)
	}
	assert.True(t, NumberFromString("1e3").Equal(Int(1000)))
}

func TestValueJSONKeepsKind(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	fields := Fields{
		"title":     String("Steampunk Weekly"),
		"views":     Int(42),
		"done":      Bool(true),
		"published": Date(when),
		"thumb":     Attachments(Attachment{URL: "https://i.ytimg.com/x.jpg", Filename: "x.jpg"}),
		"channel":   Links("rec1", "rec2"),
		"missing":   Null(),
	}

	raw, err := json.Marshal(fields)
	require.NoError(t, err)

	var decoded Fields
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.True(t, fields.Equal(decoded), "decoded fields differ: %v", decoded)

	n, ok := decoded["views"].AsInt()
	require.True(t, ok)
	require.Equal(t, int64(42), n)
	require.True(t, decoded["missing"].IsNull())
}

func TestNamedLinksDropsDuplicates(t *testing.T) {
	target := LinkTarget{Table: "Features", NameField: "Name"}
	v := NamedLinks(target, "Crafting", " Crafting ", "", "Co-op")

	names, gotTarget, ok := v.AsLinkNames()
	require.True(t, ok)
	require.Equal(t, []string{"Crafting", "Co-op"}, names)
	require.Equal(t, target, gotTarget)
}

func TestFieldsContainsTreatsMissingAsNull(t *testing.T) {
	existing := Fields{"title": String("a")}
	require.True(t, existing.Contains(Fields{"title": String("a"), "views": Null()}))
	require.False(t, existing.Contains(Fields{"views": Int(0)}))
}

func TestDateFromString(t *testing.T) {
	v := DateFromString("Tue, 10 Sep 2024 14:00:00 +0000")
	d, ok := v.AsDate()
	require.True(t, ok)
	require.Equal(t, 2024, d.Year())
	require.True(t, DateFromString("yesterday").IsNull())
}
