// Package android is the video source backend: it discovers phones over adb
// and assembles the scrcpy command that feeds the v4l2 sink.
package android

import (
	"context"

	"github.com/avream/avreamd/internal/adb"
	"github.com/avream/avreamd/internal/errors"
	"github.com/avream/avreamd/internal/scrcpy"
)

// Source is one selectable android device.
type Source struct {
	Type   string `json:"type"`
	Serial string `json:"serial"`
	State  string `json:"state"`
}

// StartOptions parameterizes BuildStartCommand.
type StartOptions struct {
	Serial         string
	SinkPath       string
	Preset         string
	CameraFacing   string
	CameraRotation int
	PreviewWindow  bool
	EnableAudio    bool
}

// Backend couples the adb and scrcpy adapters into the source-backend
// contract consumed by the video session service.
type Backend struct {
	adb    *adb.Adapter
	scrcpy *scrcpy.Adapter
}

// NewBackend wires the two adapters.
func NewBackend(adbAdapter *adb.Adapter, scrcpyAdapter *scrcpy.Adapter) *Backend {
	return &Backend{adb: adbAdapter, scrcpy: scrcpyAdapter}
}

// ListSources returns every adb-visible device regardless of health.
func (b *Backend) ListSources(ctx context.Context) []Source {
	devices := b.adb.ListDevices(ctx)
	sources := make([]Source, 0, len(devices))
	for _, dev := range devices {
		sources = append(sources, Source{Type: "android", Serial: dev.Serial, State: dev.State})
	}
	return sources
}

// SelectDefaultSource picks the device for a new session: an explicit
// serial wins, then the preferred transport among healthy devices, then any
// healthy device. "Healthy" means adb state "device" (authorized and ready).
func (b *Backend) SelectDefaultSource(ctx context.Context, preferredSerial, preferredTransport string) (Source, error) {
	if !b.adb.Available() {
		return Source{}, errors.Newf("adb is missing").
			Kind(errors.KindDependencyMissing).
			Component("android-backend").
			Context("tool", "adb").
			Context("package", "android-tools-adb").
			Build()
	}
	devices := b.adb.ListDevices(ctx)

	if preferredSerial != "" {
		for _, dev := range devices {
			if dev.Serial != preferredSerial {
				continue
			}
			if dev.State == "device" {
				return Source{Type: "android", Serial: dev.Serial, State: dev.State}, nil
			}
			return Source{}, errors.Newf("preferred Android device is not authorized/ready").
				Kind(errors.KindBackendFailed).
				Component("android-backend").
				Context("serial", preferredSerial).
				Context("state", dev.State).
				Context("devices", devices).
				Build()
		}
	}

	if preferredTransport == "usb" || preferredTransport == "wifi" {
		for _, dev := range devices {
			if dev.State == "device" && adb.TransportOf(dev.Serial) == preferredTransport {
				return Source{Type: "android", Serial: dev.Serial, State: dev.State}, nil
			}
		}
	}

	for _, dev := range devices {
		if dev.State == "device" {
			return Source{Type: "android", Serial: dev.Serial, State: dev.State}, nil
		}
	}
	return Source{}, errors.Newf("no authorized Android device available").
		Kind(errors.KindBackendFailed).
		Component("android-backend").
		Context("devices", devices).
		Build()
}

// BuildStartCommand assembles the scrcpy argv for a session.
func (b *Backend) BuildStartCommand(opts StartOptions) ([]string, error) {
	if !b.scrcpy.Available() {
		return nil, errors.Newf("scrcpy is missing").
			Kind(errors.KindDependencyMissing).
			Component("android-backend").
			Context("tool", "scrcpy").
			Context("package", "scrcpy").
			Build()
	}
	cmd, err := b.scrcpy.CameraCommand(scrcpy.CameraOptions{
		Serial:         opts.Serial,
		SinkPath:       opts.SinkPath,
		Preset:         opts.Preset,
		CameraFacing:   opts.CameraFacing,
		CameraRotation: opts.CameraRotation,
		PreviewWindow:  opts.PreviewWindow,
		EnableAudio:    opts.EnableAudio,
	})
	if err != nil {
		return nil, errors.New(err).
			Kind(errors.KindDependencyMissing).
			Component("android-backend").
			Context("tool", "scrcpy").
			Build()
	}
	return cmd, nil
}
