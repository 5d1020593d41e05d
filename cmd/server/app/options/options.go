package options

import (
	"github.com/spf13/pflag"
)

// Options are the flags shared by every ofcd subcommand.
type Options struct {
	ConfigPath string
	LogLevel   string
}

func NewOptions() *Options {
	return &Options{
		ConfigPath: "configs/config.yaml",
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "Path to the YAML config file. A missing file falls back to defaults and OFC_* variables.")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Overrides log.level from the config (debug, info, warn, error).")
}

// TokenOptions are the flags of "ofcd token".
type TokenOptions struct {
	UserID      string
	Username    string
	Role        string
	Name        string
	Permissions []string
}

func NewTokenOptions() *TokenOptions {
	return &TokenOptions{
		Username: "admin",
		Role:     "admin",
	}
}

func (o *TokenOptions) AddUserFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.UserID, "user-id", o.UserID, "Subject of the token. A random id is used when empty.")
	fs.StringVar(&o.Username, "username", o.Username, "Username claim.")
	fs.StringVar(&o.Role, "role", o.Role, "Role claim (operator, technician, admin).")
}

func (o *TokenOptions) AddMachineFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "name", o.Name, "Name of the machine token.")
	fs.StringSliceVar(&o.Permissions, "permission", o.Permissions, "Permission to grant; repeat or comma-separate.")
}
