/*
Package bridge implements the control-plane side of the agent protocol.

One bridge call is one connect-execute-disconnect cycle over SSH: the
bridge builds a single agent command line, captures stdout, and parses the
JSON envelope {success, exit_code, output, data} out of the raw output,
tolerating incidental log lines around it.

Connection failures are categorized (key missing, insecure key
permissions, auth failure, timeout, refused, unknown) so callers can
branch on recoverability, and the identity key's file permissions are
enforced to be owner-only before any call is made.

A narrow raw-command path exists for diagnostics; it is gated by an exact
match whitelist with no exception for superuser context.
*/
package bridge
