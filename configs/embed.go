// Package configs provides the embedded configuration template written by
// `xrefsearch config init`. Edit config.example.yaml and rebuild to change it.
package configs

import _ "embed"

// ConfigTemplate is the commented starting configuration created at
// $XDG_CONFIG_HOME/xrefsearch/config.yaml.
//
//go:embed config.example.yaml
var ConfigTemplate string
