// Package cliopts carries the flags shared by every CLI subcommand and the
// daemon-client plumbing built from them.
package cliopts

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/avream/avreamd/internal/client"
	"github.com/avream/avreamd/internal/conf"
)

// Options are the global CLI flags.
type Options struct {
	Socket  string
	Timeout time.Duration
}

// SocketPath resolves the effective control socket path.
func (o *Options) SocketPath() string {
	return conf.ResolvePaths(o.Socket).SocketPath
}

// Client returns a daemon client for the resolved socket.
func (o *Options) Client() *client.Client {
	return client.New(o.SocketPath(), o.Timeout)
}

// PrintData pretty-prints a response payload.
func PrintData(w io.Writer, data json.RawMessage) error {
	var buf []byte
	var decoded any
	if err := json.Unmarshal(data, &decoded); err == nil {
		buf, _ = json.MarshalIndent(decoded, "", "  ")
	} else {
		buf = data
	}
	_, err := fmt.Fprintln(w, string(buf))
	return err
}
