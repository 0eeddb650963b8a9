package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	In          string
	Out         string
	Errors      string
	SchemaFiles []string
	Signatures  []string
	SkipUnknown bool
	LogLevel    string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out":       "./data/events.jsonl",
		"errors":    "./data/decode_errors.jsonl",
		"log-level": "info",
	})
	if err != nil {
		return DecodeConfig{}, err
	}

	cfg := DecodeConfig{
		In:          v.GetString("in"),
		Out:         v.GetString("out"),
		Errors:      v.GetString("errors"),
		SchemaFiles: getStringSlice(v, "schema"),
		Signatures:  getSignatures(v, "signature"),
		SkipUnknown: v.GetBool("skip-unknown"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}

func (c DecodeConfig) Validate() error {
	if c.In == "" {
		return fmt.Errorf("input path is required")
	}
	if c.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if c.Errors == "" {
		return fmt.Errorf("errors path is required")
	}
	if len(c.SchemaFiles) == 0 && len(c.Signatures) == 0 {
		return fmt.Errorf("at least one schema file or event signature is required")
	}
	return nil
}
