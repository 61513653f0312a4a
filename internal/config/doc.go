// Package config loads the bridges configuration file.
//
// The file lists the bridges to run, each with a name, a listen address,
// an upstream target, and optionally the Docker container serving that
// upstream. Two formats are supported, selected by file extension:
// JSONC (JSON with comments, via github.com/tidwall/jsonc) for .json and
// .jsonc files, and YAML (gopkg.in/yaml.v3) for .yaml and .yml files.
//
// Beyond per-bridge validation, loading enforces cross-bridge rules:
// bridge names and listen addresses must be unique within one file.
package config
