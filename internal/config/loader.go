package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKey lists files merged underneath the including file. Paths are
// relative to the including file.
const includeKey = "$include"

// envRef matches ${NAME} and ${NAME:-fallback}. Bare $NAME is left alone so
// keys such as $include survive expansion.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// layeredReader reads a config file and its includes into one raw tree.
type layeredReader struct {
	// chain is the include path from the root file to the file being read.
	chain []string
}

func readLayered(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	r := &layeredReader{}
	return r.read(path)
}

func (r *layeredReader) read(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, seen := range r.chain {
		if seen == absPath {
			return nil, fmt.Errorf("config include cycle: %s", r.describe(absPath))
		}
	}
	r.chain = append(r.chain, absPath)
	defer func() { r.chain = r.chain[:len(r.chain)-1] }()

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(expandEnv(data), absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(absPath), err)
	}

	includes, err := takeIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(absPath), err)
	}
	base := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(absPath), inc)
		}
		layer, err := r.read(inc)
		if err != nil {
			return nil, err
		}
		overlay(base, layer)
	}
	return overlay(base, doc), nil
}

func (r *layeredReader) describe(repeat string) string {
	names := make([]string, 0, len(r.chain)+1)
	for _, p := range r.chain {
		names = append(names, filepath.Base(p))
	}
	return strings.Join(append(names, filepath.Base(repeat)), " -> ")
}

// expandEnv substitutes environment references. Unset variables without a
// fallback become empty.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		if value, ok := os.LookupEnv(string(m[1])); ok && value != "" {
			return []byte(value)
		}
		return m[2]
	})
}

// parseDocument decodes YAML, or JSON/JSON5 by extension, into a raw tree.
func parseDocument(data []byte, path string) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("expected a single YAML document")
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// takeIncludes removes the include directive from doc and returns its paths.
func takeIncludes(doc map[string]any) ([]string, error) {
	value, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	var paths []string
	switch v := value.(type) {
	case nil:
	case string:
		paths = []string{v}
	case []any:
		for _, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings, got %T", includeKey, entry)
			}
			paths = append(paths, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a path or a list of paths, got %T", includeKey, value)
	}

	out := paths[:0]
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// overlay merges src into dst. Nested maps merge key by key; any other value
// in src replaces the one in dst.
func overlay(dst, src map[string]any) map[string]any {
	for key, value := range src {
		sub, isMap := value.(map[string]any)
		prev, prevIsMap := dst[key].(map[string]any)
		if isMap && prevIsMap {
			dst[key] = overlay(prev, sub)
			continue
		}
		dst[key] = value
	}
	return dst
}

// decodeStrict converts the raw tree into a Config, rejecting unknown keys.
func decodeStrict(doc map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
