package bridge

import (
	"strings"
	"testing"
)

func TestBuildAgentCommand(t *testing.T) {
	tests := []struct {
		name   string
		verb   string
		domain string
		args   []Arg
		want   string
	}{
		{
			name:   "bare verb",
			verb:   "site:list",
			domain: "",
			args:   nil,
			want:   "/usr/local/bin/chom-agent site:list --format=json",
		},
		{
			name:   "domain and values",
			verb:   "site:create",
			domain: "example.com",
			args: []Arg{
				{Name: "type", Value: "wordpress"},
				{Name: "php-version", Value: "8.3"},
			},
			want: "/usr/local/bin/chom-agent site:create example.com --type=wordpress --php-version=8.3 --format=json",
		},
		{
			name:   "bool true emits bare flag",
			verb:   "site:delete",
			domain: "example.com",
			args:   []Arg{{Name: "force", Value: true}},
			want:   "/usr/local/bin/chom-agent site:delete example.com --force --format=json",
		},
		{
			name:   "bool false omitted",
			verb:   "site:delete",
			domain: "example.com",
			args:   []Arg{{Name: "force", Value: false}},
			want:   "/usr/local/bin/chom-agent site:delete example.com --format=json",
		},
		{
			name:   "numeric value",
			verb:   "backup:create",
			domain: "example.com",
			args:   []Arg{{Name: "retention-days", Value: 30}},
			want:   "/usr/local/bin/chom-agent backup:create example.com --retention-days=30 --format=json",
		},
		{
			name:   "argument order preserved",
			verb:   "ssl:issue",
			domain: "example.com",
			args: []Arg{
				{Name: "email", Value: "ops@example.com"},
				{Name: "staging", Value: true},
				{Name: "days", Value: 90},
			},
			want: "/usr/local/bin/chom-agent ssl:issue example.com --email=ops@example.com --staging --days=90 --format=json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildAgentCommand("/usr/local/bin/chom-agent", tt.verb, tt.domain, tt.args)
			if got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestShellEscape(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"example.com", "example.com"},
		{"", "''"},
		{"has space", "'has space'"},
		{"semi;colon", "'semi;colon'"},
		{"it's", `'it'\''s'`},
		{"$(rm -rf /)", `'$(rm -rf /)'`},
		{"back`tick", "'back`tick'"},
	}

	for _, tt := range tests {
		if got := shellEscape(tt.input); got != tt.want {
			t.Errorf("shellEscape(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEscapedValueInCommand(t *testing.T) {
	cmd := BuildAgentCommand("/usr/local/bin/chom-agent", "site:create", "example.com",
		[]Arg{{Name: "title", Value: "My Site; rm -rf /"}})
	if !strings.Contains(cmd, `--title='My Site; rm -rf /'`) {
		t.Errorf("value not escaped: %s", cmd)
	}
}

func TestRawWhitelist(t *testing.T) {
	allowed := []string{"uptime", "df -h", "free -m"}
	for _, cmd := range allowed {
		if !AllowedRawCommand(cmd) {
			t.Errorf("%q should be allowed", cmd)
		}
	}

	rejected := []string{
		"rm -rf /",
		"uptime; rm -rf /",
		"df -h /var", // not an exact match
		"DF -H",
		"",
		"sudo uptime",
	}
	for _, cmd := range rejected {
		if AllowedRawCommand(cmd) {
			t.Errorf("%q should be rejected", cmd)
		}
	}
}
