// Package conf handles the daemon configuration: viper-backed settings with
// defaults, an optional config.yaml under the XDG config dir and AVREAM_*
// environment overrides.
package conf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the root configuration structure.
type Settings struct {
	Main      MainSettings      `mapstructure:"main"`
	Video     VideoSettings     `mapstructure:"video"`
	Audio     AudioSettings     `mapstructure:"audio"`
	Reconnect ReconnectSettings `mapstructure:"reconnect"`
	Helper    HelperSettings    `mapstructure:"helper"`
}

// MainSettings covers daemon-wide behavior.
type MainSettings struct {
	LogLevel   string `mapstructure:"loglevel"`
	LogToFile  bool   `mapstructure:"logtofile"`
	LogMaxSize int    `mapstructure:"logmaxsize"` // megabytes per rotated file
	Socket     string `mapstructure:"socket"`     // override for the control socket path
}

// VideoSettings covers the v4l2 sink and the scrcpy launch defaults.
type VideoSettings struct {
	VideoNr       int    `mapstructure:"videonr"`
	DeviceLabel   string `mapstructure:"devicelabel"`
	Preset        string `mapstructure:"preset"`
	CameraFacing  string `mapstructure:"camerafacing"`
	PreviewWindow bool   `mapstructure:"previewwindow"`
	AdbBin        string `mapstructure:"adbbin"`
	ScrcpyBin     string `mapstructure:"scrcpybin"`
}

// AudioSettings covers the virtual microphone bridge.
type AudioSettings struct {
	Backend    string `mapstructure:"backend"`
	SinkName   string `mapstructure:"sinkname"`
	SourceName string `mapstructure:"sourcename"`
}

// ReconnectSettings mirrors the reconnect policy knobs. Values are clamped
// by the video manager, not here, so status output reflects what was asked.
type ReconnectSettings struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxAttempts int  `mapstructure:"maxattempts"`
	BackoffMs   int  `mapstructure:"backoffms"`
}

// HelperSettings covers the privileged helper invocation.
type HelperSettings struct {
	Bin      string  `mapstructure:"bin"`
	Mode     string  `mapstructure:"mode"` // auto, pkexec, systemd-run, direct
	TimeoutS float64 `mapstructure:"timeouts"`
}

func setDefaults() {
	viper.SetDefault("main.loglevel", "info")
	viper.SetDefault("main.logtofile", true)
	viper.SetDefault("main.logmaxsize", 20)
	viper.SetDefault("main.socket", "")

	viper.SetDefault("video.videonr", 10)
	viper.SetDefault("video.devicelabel", "AVream Camera")
	viper.SetDefault("video.preset", "balanced")
	viper.SetDefault("video.camerafacing", "front")
	viper.SetDefault("video.previewwindow", false)
	viper.SetDefault("video.adbbin", "")
	viper.SetDefault("video.scrcpybin", "")

	viper.SetDefault("audio.backend", "pipewire")
	viper.SetDefault("audio.sinkname", "avream_sink")
	viper.SetDefault("audio.sourcename", "avream_mic")

	viper.SetDefault("reconnect.enabled", true)
	viper.SetDefault("reconnect.maxattempts", 3)
	viper.SetDefault("reconnect.backoffms", 1500)

	viper.SetDefault("helper.bin", "/usr/libexec/avream-helper")
	viper.SetDefault("helper.mode", "pkexec")
	viper.SetDefault("helper.timeouts", 15.0)
}

// Load reads settings from defaults, an optional config.yaml in configDir
// and AVREAM_* environment variables, in increasing precedence.
func Load(configDir string) (*Settings, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetEnvPrefix("AVREAM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Missing config file is fine, defaults apply.
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return settings, nil
}
