package adb

import (
	"context"
)

// NewTestAdapter returns an adapter whose `devices` call is answered from
// canned tab-separated rows instead of the real binary. Other invocations
// report success with empty output. Test support for dependent packages.
func NewTestAdapter(deviceRows string) *Adapter {
	return NewScriptedAdapter(func(args ...string) Result {
		if len(args) == 1 && args[0] == "devices" {
			return Result{Stdout: "List of devices attached\n" + deviceRows}
		}
		return Result{Stdout: "", Args: append([]string{"adb"}, args...)}
	})
}

// NewScriptedAdapter returns an adapter that answers every invocation from
// the given script. The script receives the adb argv without the binary.
func NewScriptedAdapter(script func(args ...string) Result) *Adapter {
	return &Adapter{
		Bin: "/usr/bin/adb",
		run: func(_ context.Context, _ string, args ...string) Result {
			return script(args...)
		},
	}
}
