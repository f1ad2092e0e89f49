package agent

import (
	"encoding/json"
	"fmt"
	"io"
)

// Response is the wire envelope every verb produces. It mirrors what the
// control plane's bridge parses on the other side of the session.
type Response struct {
	Success  bool                   `json:"success"`
	ExitCode int                    `json:"exit_code"`
	Output   string                 `json:"output"`
	Data     map[string]interface{} `json:"data"`
}

// OK builds a success envelope.
func OK(output string, data map[string]interface{}) *Response {
	return &Response{Success: true, ExitCode: 0, Output: output, Data: data}
}

// Fail builds a failure envelope with the given exit code.
func Fail(exitCode int, format string, args ...interface{}) *Response {
	if exitCode == 0 {
		exitCode = 1
	}
	return &Response{Success: false, ExitCode: exitCode, Output: fmt.Sprintf(format, args...)}
}

// Write emits the envelope as a single JSON object. The output is valid
// JSON even when marshaling the data payload fails.
func (r *Response) Write(w io.Writer) {
	b, err := json.Marshal(r)
	if err != nil {
		fmt.Fprintf(w, `{"success":false,"exit_code":1,"output":%q,"data":null}`+"\n", "encode response: "+err.Error())
		return
	}
	w.Write(append(b, '\n'))
}
