package config

func defaultInitSystem() string { return "scm" }
