// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// Structs declare their variables through `env` tags and are parsed once per
// process:
//
//	var cfg queue.Config
//	config.MustLoad(&cfg)
//	engine := queue.NewEngine(queue.WithConfig(cfg))
package config
