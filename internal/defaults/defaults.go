// Package defaults provides the files written by the leozera init
// subcommand: an example configuration, an example .env and a starter
// support document for the knowledge index.
package defaults

import _ "embed"

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// EnvExample lists the secrets config.example.yaml expects.
//
//go:embed env.example
var EnvExample []byte

// SupportMD is the starter support material.
//
//go:embed material_de_apoio.md
var SupportMD []byte
