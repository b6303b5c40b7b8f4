// Package urlnorm finds URL-like tokens in mail text and canonicalizes them
// so that the same link written two ways maps to one blacklist entry.
package urlnorm

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"mvdan.cc/xurls/v2"
)

var relaxed = xurls.Relaxed()

// Extract returns URL-like tokens found in text, in order of appearance.
// A scheme and "www." are optional. Bare e-mail addresses, mailto: links and
// hosts without a dot-separated pair of labels are skipped.
func Extract(text string) []string {
	var urls []string
	for _, m := range relaxed.FindAllString(text, -1) {
		if isEmailAddress(m) || !hasDottedHost(m) {
			continue
		}
		urls = append(urls, m)
	}
	return urls
}

func isEmailAddress(m string) bool {
	if strings.HasPrefix(strings.ToLower(m), "mailto:") {
		return true
	}
	return strings.Contains(m, "@") && !strings.Contains(m, "://")
}

// hasDottedHost reports whether the host part of m contains a "." between
// two non-empty labels, after dropping scheme, userinfo and port.
func hasDottedHost(m string) bool {
	host := m
	if _, rest, ok := strings.Cut(host, "://"); ok {
		host = rest
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if i := strings.LastIndexByte(host, '@'); i >= 0 {
		host = host[i+1:]
	}
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	labels := strings.Split(host, ".")
	for i := 0; i+1 < len(labels); i++ {
		if labels[i] != "" && labels[i+1] != "" {
			return true
		}
	}
	return false
}

// ExtractHTML returns URLs from link-bearing attributes and from the text
// content of an HTML document.
func ExtractHTML(r io.Reader) []string {
	var urls []string
	ht := html.NewTokenizer(r)
	for {
		switch ht.Next() {
		case html.ErrorToken:
			return urls
		case html.TextToken:
			urls = append(urls, Extract(string(ht.Text()))...)
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := ht.Token()
			for _, a := range tok.Attr {
				switch a.Key {
				case "href", "src", "action", "background", "cite", "formaction", "poster":
					urls = append(urls, Extract(a.Val)...)
				case "srcset":
					for _, item := range strings.Split(a.Val, ",") {
						if fields := strings.Fields(item); len(fields) > 0 {
							urls = append(urls, Extract(fields[0])...)
						}
					}
				}
			}
		}
	}
}

// Normalize lower-cases u, trims surrounding whitespace and strips trailing
// slashes. Normalize(Normalize(u)) == Normalize(u) for every input.
func Normalize(u string) string {
	u = strings.ToLower(u)
	for {
		next := strings.TrimSuffix(strings.TrimSpace(u), "/")
		if next == u {
			return u
		}
		u = next
	}
}

// NormalizeAll normalizes and de-duplicates urls keeping first-seen order.
// Empty results are dropped.
func NormalizeAll(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		n := Normalize(u)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// FromMail computes the normalized URL list of a mail from its title and body.
func FromMail(title, body string) []string {
	found := Extract(title)
	if looksLikeHTML(body) {
		found = append(found, ExtractHTML(strings.NewReader(body))...)
	} else {
		found = append(found, Extract(body)...)
	}
	return NormalizeAll(found)
}

func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && strings.Contains(s, ">")
}
