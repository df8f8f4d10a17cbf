package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"prose", `Here you go: {"a":{"b":"}"}} thanks`, `{"a":{"b":"}"}}`, true},
		{"fence", "```json\n{\"a\":[1,2]}\n```", `{"a":[1,2]}`, true},
		{"fence without lang", "```\n{\"a\":2}```", `{"a":2}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"empty", "   ", "", false},
		{"no json", "I would buy BTC now", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractArray(t *testing.T) {
	got, ok := ExtractArray(`result: [["BTC","buy",10,null,null,"","x"]] end`)
	assert.True(t, ok)
	assert.Equal(t, `[["BTC","buy",10,null,null,"","x"]]`, got)
}

func TestPretty(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", Pretty(`{"a":1}`))
	assert.Equal(t, "not json", Pretty("not json"))
}
