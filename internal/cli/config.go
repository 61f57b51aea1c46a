// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for gpuinfo.
//
// Command: config [subcommand]
//
// Subcommands:
//
//	show (default)      Show effective configuration
//	path                Show config file location
//	init [--force]      Write a default config file
//	get <key>           Print one value
//	set <key> <value>   Change one value in the config file
//
// set edits the file as written: environment overrides are not persisted.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/gpuinfo/internal/config"
)

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		return handleConfigShow(args)
	case "path":
		return handleConfigPath(args)
	case "init":
		return handleConfigInit(args)
	case "get":
		return handleConfigGet(args)
	case "set":
		return handleConfigSet(args)
	default:
		return &ValidationError{
			Field:   "config subcommand",
			Value:   args.Subcommand,
			Reason:  "must be one of show, path, init, get, set",
			Example: "gpuinfo config get server.listen",
		}
	}
}

// configFilePath is the file config commands read and write.
func configFilePath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	path, err := config.ConfigPathTOML()
	if err != nil {
		return "", &ConfigError{Err: err}
	}
	return path, nil
}

// maskedKeys are never printed in full.
var maskedKeys = map[string]bool{
	"server.auth_token": true,
}

func maskValue(key string, v interface{}) interface{} {
	if s, ok := v.(string); ok && maskedKeys[key] && s != "" {
		return "********"
	}
	return v
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func handleConfigShow(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	if args.JSON {
		values := make(map[string]interface{}, len(config.GetAllKeys()))
		for _, key := range config.GetAllKeys() {
			v, _ := cfg.Get(key)
			values[key] = maskValue(key, v)
		}
		return NewJSONResponse("config show", values).Print()
	}

	fmt.Fprintln(stdout, TitleStyle.Render("gpuinfo Configuration"))
	section := ""
	for _, key := range config.GetAllKeys() {
		v, err := cfg.Get(key)
		if err != nil {
			continue
		}
		if head, _, ok := strings.Cut(key, "."); ok && head != section {
			section = head
			fmt.Fprintln(stdout, SectionStyle.Render("["+section+"]"))
		}
		text := formatValue(maskValue(key, v))
		if text == "" {
			text = DimStyle.Render("(unset)")
		} else {
			text = ValueStyle.Render(text)
		}
		fmt.Fprintf(stdout, "  %s %s\n", RenderLabel(key[strings.Index(key, ".")+1:]), text)
	}
	return nil
}

func handleConfigPath(args Args) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if args.JSON {
		return NewJSONResponse("config path", ConfigPathData{Path: path, Exists: exists}).Print()
	}
	if exists {
		fmt.Fprintln(stdout, path)
	} else {
		fmt.Fprintf(stdout, "%s %s\n", path, DimStyle.Render("(not created; defaults in use)"))
	}
	return nil
}

func handleConfigInit(args Args) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !args.Force {
		return &CommandError{
			Command: "config",
			Action:  "init",
			Reason:  path + " already exists (use --force to overwrite)",
		}
	}

	if err := saveConfig(config.Default(), path); err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("config init", ConfigPathData{Path: path, Exists: true}).Print()
	}
	fmt.Fprintf(stdout, "%s Wrote %s\n", SuccessStyle.Render("[OK]"), path)
	return nil
}

func handleConfigGet(args Args) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "gpuinfo config get server.listen")
	}
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	v, err := cfg.Get(args.ConfigKey)
	if err != nil {
		return err
	}
	v = maskValue(args.ConfigKey, v)

	if args.JSON {
		return NewJSONResponse("config get", ConfigValue{Key: args.ConfigKey, Value: v}).Print()
	}
	fmt.Fprintln(stdout, formatValue(v))
	return nil
}

func handleConfigSet(args Args) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "gpuinfo config set server.listen 0.0.0.0:9835")
	}
	path, err := configFilePath(args)
	if err != nil {
		return err
	}

	cfg, err := readConfigFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(args.ConfigKey, args.ConfigVal); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if err := saveConfig(cfg, path); err != nil {
		return err
	}

	v, _ := cfg.Get(args.ConfigKey)
	v = maskValue(args.ConfigKey, v)
	if args.JSON {
		return NewJSONResponse("config set", ConfigValue{Key: args.ConfigKey, Value: v, Path: path}).Print()
	}
	fmt.Fprintf(stdout, "%s %s = %s\n", SuccessStyle.Render("[OK]"), args.ConfigKey, formatValue(v))
	return nil
}

// readConfigFile decodes path over the defaults without environment
// overrides. A missing file yields the defaults.
func readConfigFile(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	var err error
	if strings.HasSuffix(path, ".json") {
		err = config.LoadJSON(cfg, path)
	} else {
		err = config.LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

func saveConfig(cfg *config.Config, path string) error {
	var err error
	if strings.HasSuffix(path, ".json") {
		err = config.SaveJSON(cfg, path)
	} else {
		err = config.SaveTOML(cfg, path)
	}
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	return nil
}
