package agent

import (
	"fmt"
	"strings"
)

// ParseArgs turns the agent's argv into a request. The wire shape is
// `<verb> [domain] [--flag] [--key=value ...]`; bare flags mean true.
func ParseArgs(args []string) (Request, error) {
	if len(args) == 0 {
		return Request{}, fmt.Errorf("no verb given")
	}
	verb, ok := ParseVerb(args[0])
	if !ok {
		return Request{}, fmt.Errorf("unknown verb %q", args[0])
	}

	req := Request{Verb: verb, Flags: map[string]string{}}
	for _, arg := range args[1:] {
		if strings.HasPrefix(arg, "--") {
			body := strings.TrimPrefix(arg, "--")
			if body == "" {
				return Request{}, fmt.Errorf("empty flag")
			}
			if name, value, found := strings.Cut(body, "="); found {
				req.Flags[name] = value
			} else {
				req.Flags[body] = "true"
			}
			continue
		}
		if req.Domain != "" {
			return Request{}, fmt.Errorf("unexpected argument %q", arg)
		}
		req.Domain = arg
	}
	return req, nil
}
