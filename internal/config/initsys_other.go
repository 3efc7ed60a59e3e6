//go:build !windows

package config

func defaultInitSystem() string { return "systemd" }
