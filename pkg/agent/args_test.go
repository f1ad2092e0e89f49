package agent

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    Request
		wantErr bool
	}{
		{
			name: "verb with domain and flags",
			args: []string{"site:create", "example.com", "--type=php", "--php=8.3"},
			want: Request{Verb: VerbSiteCreate, Domain: "example.com", Flags: map[string]string{"type": "php", "php": "8.3"}},
		},
		{
			name: "bare flag means true",
			args: []string{"site:delete", "example.com", "--force"},
			want: Request{Verb: VerbSiteDelete, Domain: "example.com", Flags: map[string]string{"force": "true"}},
		},
		{
			name: "verb only",
			args: []string{"site:list"},
			want: Request{Verb: VerbSiteList, Flags: map[string]string{}},
		},
		{
			name: "version pseudo verb",
			args: []string{"--version"},
			want: Request{Verb: VerbVersion, Flags: map[string]string{}},
		},
		{name: "no args", args: nil, wantErr: true},
		{name: "unknown verb", args: []string{"site:destroy"}, wantErr: true},
		{name: "two positionals", args: []string{"site:info", "a.example.com", "b.example.com"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Verb != tt.want.Verb || got.Domain != tt.want.Domain {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if len(got.Flags) != len(tt.want.Flags) {
				t.Fatalf("flags = %v, want %v", got.Flags, tt.want.Flags)
			}
			for k, v := range tt.want.Flags {
				if got.Flags[k] != v {
					t.Errorf("flag %s = %q, want %q", k, got.Flags[k], v)
				}
			}
		})
	}
}

func TestRequestBool(t *testing.T) {
	req := Request{Flags: map[string]string{"force": "true", "quiet": "false"}}
	if !req.Bool("force") {
		t.Error("force should be true")
	}
	if req.Bool("quiet") {
		t.Error("explicit false should be false")
	}
	if req.Bool("absent") {
		t.Error("absent flag should be false")
	}
}

func TestResponseWriteAlwaysValidJSON(t *testing.T) {
	responses := []*Response{
		OK("fine", map[string]interface{}{"n": 1}),
		Fail(3, "broke: %v", "reason"),
		{Success: true, Output: "odd \"quotes\" and\nnewlines"},
	}
	for _, r := range responses {
		var buf bytes.Buffer
		r.Write(&buf)
		var decoded map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("envelope %q is not valid JSON: %v", buf.String(), err)
		}
		for _, field := range []string{"success", "exit_code", "output", "data"} {
			if _, ok := decoded[field]; !ok {
				t.Errorf("envelope missing %s field", field)
			}
		}
	}
}

func TestFailDefaultsExitCode(t *testing.T) {
	if got := Fail(0, "x").ExitCode; got != 1 {
		t.Fatalf("exit code = %d, want 1", got)
	}
}
