// File: internal/portal/tokens.go
package portal

import (
	"strings"

	"golang.org/x/net/html"
)

const (
	antiForgeryMetaName   = "csrf-token"
	verificationInputName = "tkv"
)

// Tokens holds the two values the login page embeds. An empty field means the
// marker was absent.
type Tokens struct {
	AntiForgery  string
	Verification string
}

// ExtractTokens pulls the anti-forgery token (<meta name="csrf-token" content=...>)
// and the verification field (<input name="tkv" value=...>) out of a document.
// It never fails: broken markup is tokenized as far as it goes, and the first
// non-empty occurrence of each marker wins.
func ExtractTokens(doc string) Tokens {
	var tokens Tokens
	z := html.NewTokenizer(strings.NewReader(doc))

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way we are done.
			return tokens
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				continue
			}
			switch string(name) {
			case "meta":
				if tokens.AntiForgery == "" {
					tokens.AntiForgery = attrValueIfNamed(z, antiForgeryMetaName, "content")
				}
			case "input":
				if tokens.Verification == "" {
					tokens.Verification = attrValueIfNamed(z, verificationInputName, "value")
				}
			}
			if tokens.AntiForgery != "" && tokens.Verification != "" {
				return tokens
			}
		}
	}
}

// attrValueIfNamed returns the want attribute of the current tag when its
// name attribute equals name, in whatever order the attributes appear.
func attrValueIfNamed(z *html.Tokenizer, name, want string) string {
	var matched bool
	var value string
	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "name":
			matched = strings.EqualFold(strings.TrimSpace(string(val)), name)
		case want:
			value = strings.TrimSpace(string(val))
		}
		if !more {
			break
		}
	}
	if !matched {
		return ""
	}
	return value
}
