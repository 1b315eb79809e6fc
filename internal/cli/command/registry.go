package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "sandbox",
			Action:       "run",
			Method:       "POST",
			PathTemplate: "/api/sandbox",
			Usage:        "sandbox run language=python code_file=./main.py input_file=./in.txt",
			Fields: []Field{
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language (python|javascript|java|cpp)", Type: FieldString, Required: true},
				{Name: "code", Prompt: "code", Type: FieldString, Required: true, FileField: "code_file"},
				{Name: "input_data", Aliases: []string{"input", "stdin"}, Prompt: "input_data", Type: FieldString, FileField: "input_file"},
				{Name: "code_file", Aliases: []string{"file"}, Prompt: "code_file", Type: FieldFile},
				{Name: "input_file", Prompt: "input_file", Type: FieldFile},
			},
		},
		{
			Service:      "sandbox",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/sandbox/status/:task_id",
			Usage:        "sandbox status task_id=<id>",
			Fields: []Field{
				{Name: "task_id", Aliases: []string{"id"}, Prompt: "task_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "sandbox",
			Action:       "watch",
			Method:       "GET",
			PathTemplate: "/api/sandbox/watch/:task_id",
			Stream:       true,
			Usage:        "sandbox watch task_id=<id>",
			Fields: []Field{
				{Name: "task_id", Aliases: []string{"id"}, Prompt: "task_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "service",
			Action:       "health",
			Method:       "GET",
			PathTemplate: "/healthz",
			Usage:        "service health",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// SortedKeys lists command names for help output.
func SortedKeys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
		Stream:  cmd.Stream,
	}, nil
}

// Missing returns required fields that are neither given nor backed by a file.
func Missing(cmd Command, params Params) []Field {
	params.Canonicalize(cmd.Fields)
	var missing []Field
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		if field.FileField != "" && params.Get(field.FileField) != "" {
			continue
		}
		missing = append(missing, field)
	}
	return missing
}

func buildPath(template string, params Params) (string, error) {
	path := template
	for _, key := range []string{"task_id"} {
		placeholder := ":" + key
		if strings.Contains(path, placeholder) {
			value := strings.TrimSpace(params.Get(key))
			if value == "" {
				return "", fmt.Errorf("missing path parameter: %s", key)
			}
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
		}
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service == "sandbox" && cmd.Action == "run" {
		return buildRunPayload(params)
	}
	return nil, nil
}

func buildRunPayload(params Params) (interface{}, error) {
	code, err := valueOrFile(params, "code", "code_file")
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	payload := map[string]interface{}{
		"language": strings.ToLower(params.Get("language")),
		"code":     code,
	}
	if params.Has("input_data") || params.Get("input_file") != "" {
		input, err := valueOrFile(params, "input_data", "input_file")
		if err != nil {
			return nil, err
		}
		payload["input_data"] = input
	}
	return payload, nil
}

// valueOrFile prefers an inline value and falls back to reading fileKey.
func valueOrFile(params Params, key, fileKey string) (string, error) {
	if value := params.Get(key); value != "" {
		return value, nil
	}
	if path := params.Get(fileKey); path != "" {
		return ReadFile(path)
	}
	return "", nil
}
