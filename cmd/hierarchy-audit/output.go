package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type auditOutput struct {
	Command    string `json:"command" yaml:"command"`
	TenantID   string `json:"tenant_id" yaml:"tenant_id"`
	TargetID   string `json:"target_id" yaml:"target_id"`
	DurationMS int64  `json:"duration_ms" yaml:"duration_ms"`
	Count      int    `json:"count" yaml:"count"`
	Result     any    `json:"result" yaml:"result"`
}

func validateFormat(format string) error {
	switch format {
	case "json", "yaml":
		return nil
	}
	return fmt.Errorf("invalid --format %q (expected json|yaml)", format)
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return validateFormat(format)
}
