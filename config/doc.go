// Package config loads the natbox configuration: queue and interface
// settings plus the static flow mappings that seed the NAT table.
package config
