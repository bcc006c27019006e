// Package democonfig loads the channel layout for the rpcdemo example —
// the cookie, a Unix-socket path for fd handoff, and the per-channel slot
// counts of the command/response/event channels — from a TOML file, the
// way the teacher's config package loads per-exchange layout, plus
// optional .env overrides of the handful of values operators tend to vary
// per run (teacher's main.go reads ALEPH_FEEDER_CONFIG/ALEPH_SHM the same
// way via plain os.Getenv, not a struct tag mechanism).
package democonfig

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// ChannelSpec mirrors rtipc.ChannelParam in TOML form.
type ChannelSpec struct {
	AddMsgs int `toml:"add_msgs"`
	MsgSize int `toml:"msg_size"`
}

// Config is the rpcdemo channel layout: one command channel (attacher to
// creator), and the response/event channels (creator to attacher).
type Config struct {
	Cookie   uint32        `toml:"cookie"`
	SockPath string        `toml:"sock_path"`
	Commands []ChannelSpec `toml:"commands"`
	Responses []ChannelSpec `toml:"responses"`
	Events    []ChannelSpec `toml:"events"`
}

// Load reads and decodes the TOML config at path, then applies any
// RTIPC_DEMO_* environment overrides — loading a .env file first if one
// is present in the working directory.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if s := os.Getenv("RTIPC_DEMO_SOCK"); s != "" {
		c.SockPath = s
	}

	return &c, nil
}
