package profile

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinPatterns_Compile(t *testing.T) {
	for _, p := range BuiltinPatterns() {
		_, err := regexp.Compile(p.Regex)
		require.NoError(t, err, p.Name)
		assert.NotEmpty(t, p.Group, p.Name)
	}
	require.NoError(t, New("x").Validate())
}

func TestBuiltinPatterns_FinnishPhone(t *testing.T) {
	var phone Pattern
	for _, p := range BuiltinPatterns() {
		if p.Name == "finnish_phone" {
			phone = p
		}
	}
	require.NotEmpty(t, phone.Regex)
	assert.Equal(t, 0.95, phone.Score)
	assert.Equal(t, "PHONE_NUMBER", phone.EntityType)

	re := regexp.MustCompile(phone.Regex)
	assert.Equal(t, []int{4, 16}, re.FindStringIndex("Tel +35840123456 now"))
	assert.Nil(t, re.FindStringIndex("+35940123456"))
}

func TestInvalidIBAN(t *testing.T) {
	assert.False(t, invalidIBAN("FI2112345600000785"))
	assert.False(t, invalidIBAN("FI21 1234 5600 0007 85"))
	assert.True(t, invalidIBAN("FI2112345600000786"), "checksum")
	assert.True(t, invalidIBAN("FI21"), "too short")
}

func TestInvalidIPv4(t *testing.T) {
	assert.False(t, invalidIPv4("192.168.0.1"))
	assert.False(t, invalidIPv4("255.255.255.255"))
	assert.True(t, invalidIPv4("256.1.1.1"))
}

func TestInvalidSSN(t *testing.T) {
	assert.False(t, invalidSSN("131052-308T"))
	assert.False(t, invalidSSN("010101A123B"))
	assert.True(t, invalidSSN("010101--123"))
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Hello   WORLD ":      "hello world",
		"MEIKÄLÄINEN":           "meikäläinen",
		"Me\u0301ika\u0308": "m\u00e9ik\u00e4",
		"\t\n":                  "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "%q", in)
	}
}

func TestNewListEntry(t *testing.T) {
	e, ok := NewListEntry("  Matti  Meikäläinen ", Grant)
	require.True(t, ok)
	assert.Equal(t, ListEntry{Term: "matti meikäläinen", Words: 2, Membership: Grant}, e)

	_, ok = NewListEntry("   ", Block)
	assert.False(t, ok)

	e, ok = NewListEntry("St. Mary's (Oy)", Block)
	require.True(t, ok)
	assert.Equal(t, ListEntry{Term: "st mary's oy", Words: 3, Membership: Block}, e)

	_, ok = NewListEntry(" -- ", Block)
	assert.False(t, ok, "punctuation only")
}
