package llm

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{
			name: "already valid",
			raw:  `{"summary":"handles payment callbacks"}`,
			want: `{"summary":"handles payment callbacks"}`,
			ok:   true,
		},
		{
			name: "valid with surrounding whitespace",
			raw:  "\n  [1, 2, 3]\n",
			want: "[1, 2, 3]",
			ok:   true,
		},
		{
			name: "json fence",
			raw:  "Here is the result:\n```json\n{\"a\": 1}\n```\nHope that helps!",
			want: `{"a": 1}`,
			ok:   true,
		},
		{
			name: "bare fence",
			raw:  "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
			ok:   true,
		},
		{
			name: "markdown escapes",
			raw:  `{"name": "get\_user\_by\_id"}`,
			want: `{"name": "get_user_by_id"}`,
			ok:   true,
		},
		{
			name: "object buried in prose",
			raw:  `The method does X. {"role": "validator", "deps": ["db"]} as shown above.`,
			want: `{"role": "validator", "deps": ["db"]}`,
			ok:   true,
		},
		{
			name: "nested object with braces in strings",
			raw:  `Result: {"code": "if (x) { return; }", "n": 2} done`,
			want: `{"code": "if (x) { return; }", "n": 2}`,
			ok:   true,
		},
		{
			name: "plain prose",
			raw:  "I could not analyze this file, sorry.",
			ok:   false,
		},
		{
			name: "empty",
			raw:  "",
			ok:   false,
		},
		{
			name: "unbalanced braces only",
			raw:  "{{{ not json",
			ok:   false,
		},
		{
			name: "bare scalar rejected",
			raw:  "42",
			ok:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v (got %q)", ok, tc.ok, got)
			}
			if tc.ok && got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractJSONNeverPanics(t *testing.T) {
	inputs := []string{
		"}{", "\"", "\x00\x01\x02", "```json", "[", "{\"a\":",
		"``````", "{\"a\": \"\\", "\\\\\\",
	}
	for _, in := range inputs {
		_, _ = ExtractJSON(in) // must not panic
	}
}
