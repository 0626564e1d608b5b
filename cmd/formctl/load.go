package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/rules"
)

func configureLogging(level string) error {
	return logger.Configure(level, 0)
}

// loadSchema reads a schema written in YAML or JSON
func loadSchema(path string) (*rules.Schema, error) {
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	schema, err := rules.ParseSchema(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return schema, nil
}

// loadAnswers reads an answer set. An empty path means no answers.
func loadAnswers(path string) (rules.AnswerSet, error) {
	if path == "" {
		return rules.AnswerSet{}, nil
	}
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	var answers rules.AnswerSet
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("%s: answers must be a mapping of field id to value: %w", path, err)
	}
	if answers == nil {
		answers = rules.AnswerSet{}
	}
	return answers, nil
}

// readDocument decodes YAML (JSON is valid YAML) and re-encodes it as JSON, so files
// go through the same decoders as API requests
func readDocument(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s to JSON: %w", path, err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseMode(s string) (rules.Mode, error) {
	switch rules.Mode(s) {
	case "", rules.ModeRuntime:
		return rules.ModeRuntime, nil
	case rules.ModeBuilder:
		return rules.ModeBuilder, nil
	}
	return "", fmt.Errorf("unknown mode %q (use runtime or builder)", s)
}
