package llm

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var fence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSONArray finds the JSON array in a model reply. Replies may wrap it
// in a fenced code block or surround it with prose.
func ExtractJSONArray(reply string) (gjson.Result, bool) {
	text := strings.TrimSpace(reply)
	if m := fence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if gjson.Valid(text) {
		if r := gjson.Parse(text); r.IsArray() {
			return r, true
		}
	}
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return gjson.Result{}, false
	}
	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return gjson.Result{}, false
	}
	r := gjson.Parse(candidate)
	return r, r.IsArray()
}

// ExtractStrings returns the string elements of the reply's JSON array,
// dropping blanks and non-strings.
func ExtractStrings(reply string) ([]string, bool) {
	arr, ok := ExtractJSONArray(reply)
	if !ok {
		return nil, false
	}
	var out []string
	for _, v := range arr.Array() {
		if v.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}
