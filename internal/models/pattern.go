package models

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Pattern is a regular expression compiled when configuration is decoded.
// A malformed expression fails decoding instead of failing later at match time.
type Pattern struct {
	re *regexp.Regexp
}

// CompilePattern compiles expr case-insensitively.
func CompilePattern(expr string) (Pattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return Pattern{re: re}, nil
}

// MustPattern is CompilePattern for built-in expressions.
func MustPattern(expr string) Pattern {
	p, err := CompilePattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) IsZero() bool { return p.re == nil }

func (p Pattern) MatchString(s string) bool {
	return p.re != nil && p.re.MatchString(s)
}

func (p Pattern) String() string {
	if p.re == nil {
		return ""
	}
	return p.re.String()[len("(?i)"):]
}

func (p *Pattern) UnmarshalJSON(data []byte) error {
	var expr string
	if err := json.Unmarshal(data, &expr); err != nil {
		return fmt.Errorf("pattern must be a string: %w", err)
	}
	compiled, err := CompilePattern(expr)
	if err != nil {
		return err
	}
	*p = compiled
	return nil
}

func (p Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}
