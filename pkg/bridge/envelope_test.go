package bridge

import (
	"testing"
)

func TestParseEnvelopeClean(t *testing.T) {
	raw := `{"success": true, "exit_code": 0, "output": "site created", "data": {"domain": "example.com"}}`
	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if !env.Success || env.ExitCode != 0 {
		t.Errorf("unexpected envelope: %+v", env)
	}
	if env.Data["domain"] != "example.com" {
		t.Errorf("data not parsed: %+v", env.Data)
	}
}

func TestParseEnvelopeWithNoise(t *testing.T) {
	raw := "Warning: /etc/profile.d/motd.sh: line 3: locale not found\n" +
		"some banner text\n" +
		`{"success": false, "exit_code": 2, "output": "domain already exists", "data": null}` +
		"\ntrailing log line\n"

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Success {
		t.Error("expected success=false")
	}
	if env.ExitCode != 2 {
		t.Errorf("exit_code = %d, want 2", env.ExitCode)
	}
}

func TestParseEnvelopeBracesInStrings(t *testing.T) {
	raw := `log: ignoring stray } brace
{"success": true, "exit_code": 0, "output": "wrote {\"sites\": []} to registry", "data": null}`
	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Output != `wrote {"sites": []} to registry` {
		t.Errorf("output mangled: %q", env.Output)
	}
}

func TestParseEnvelopeNoJSON(t *testing.T) {
	if _, err := ParseEnvelope("plain text only, no envelope here"); err == nil {
		t.Fatal("expected error for output without JSON")
	}
}

func TestExtractJSONArray(t *testing.T) {
	fragment, ok := extractJSON(`noise [1, 2, {"a": "]"}] tail`)
	if !ok {
		t.Fatal("array not extracted")
	}
	if fragment != `[1, 2, {"a": "]"}]` {
		t.Errorf("got %q", fragment)
	}
}

func TestExtractJSONUnbalanced(t *testing.T) {
	if _, ok := extractJSON(`{"success": true`); ok {
		t.Fatal("unbalanced object should not extract")
	}
}
