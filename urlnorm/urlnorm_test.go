package urlnorm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"scheme", "see http://example.com/about.html now", []string{"http://example.com/about.html"}},
		{"www", "go to www.example.org today", []string{"www.example.org"}},
		{"bare domain", "example.com is great", []string{"example.com"}},
		{"multiple", "a https://one.example.com b two.example.net/x", []string{"https://one.example.com", "two.example.net/x"}},
		{"email skipped", "write to bob@example.com", nil},
		{"no dot", "localhost and words", nil},
		{"scheme without dotted host", "see http://localhost/admin now", nil},
		{"other scheme without dot", "ftp://intranet", nil},
		{"mailto", "mailto:bob@x.com", nil},
		{"port", "http://files.example.com:8080/a", []string{"http://files.example.com:8080/a"}},
		{"ip address", "http://10.0.0.1/login", []string{"http://10.0.0.1/login"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text))
		})
	}
}

func TestExtractHTML(t *testing.T) {
	doc := `<p>Visit <a href="https://Promo.example.com/deal">here</a> or evil.example.net</p>
<img src="http://img.example.org/a.png" srcset="http://img.example.org/b.png 2x">`
	got := ExtractHTML(strings.NewReader(doc))
	assert.ElementsMatch(t, []string{
		"https://Promo.example.com/deal",
		"evil.example.net",
		"http://img.example.org/a.png",
		"http://img.example.org/b.png",
	}, got)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM/", "http://example.com"},
		{"  www.example.com  ", "www.example.com"},
		{"example.com//", "example.com"},
		{"example.com/ /", "example.com"},
		{"example.com/path", "example.com/path"},
		{"", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://Example.COM/", " a/ / ", "x.com///", "\tWWW.Example.org/Path/\n",
		"already.normal", "/", " ", "https://example.com/?q=A/",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestFromMail(t *testing.T) {
	got := FromMail("Deal at Example.com/", "click http://example.com/ or Example.com\nand www.other.org")
	assert.Equal(t, []string{"example.com", "http://example.com", "www.other.org"}, got)
}

func TestHasDottedHost(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"example.com", true},
		{"http://user:pw@files.example.com:8080/a", true},
		{"http://localhost/admin", false},
		{"http://intranet./x", false},
		{"https://.com", false},
		{"ftp://host:21", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hasDottedHost(tt.in), tt.in)
	}
}
