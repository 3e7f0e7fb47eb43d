package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ReadFile parses a YAML (.yaml/.yml) or properties (.properties/.conf/
// anything else) file into flat dotted keys.
func ReadFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	default:
		return ParseProperties(f)
	}
}

// ReadDir merges every configuration file in dir, in name order.
func ReadDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".properties", ".conf":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make(map[string]string)
	for _, name := range names {
		values, err := ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		merge(out, values)
	}
	return out, nil
}

// ParseYAML flattens a YAML document: nested maps become dotted keys,
// sequences and other composites are stored as JSON.
//
//	dsi:
//	  httpd:
//	    port: 8080      →  dsi.httpd.port = 8080
func ParseYAML(r io.Reader) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	out := make(map[string]string)
	flatten("", doc, out)
	return out, nil
}

func flatten(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			flatten(join(prefix, k), child, out)
		}
	case map[any]any:
		for k, child := range v {
			flatten(join(prefix, fmt.Sprint(k)), child, out)
		}
	case nil:
		out[prefix] = ""
	case string:
		out[prefix] = v
	case []any:
		b, err := json.Marshal(v)
		if err != nil {
			out[prefix] = fmt.Sprint(v)
			return
		}
		out[prefix] = string(b)
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// ParseProperties reads key=value (or key: value) lines. Lines starting with
// # or ! are comments; a trailing backslash continues the value.
func ParseProperties(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	var pending string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if pending != "" {
			line = pending + line
			pending = ""
		}
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		if strings.HasSuffix(line, `\`) {
			pending = strings.TrimSuffix(line, `\`)
			continue
		}
		i := strings.IndexAny(line, "=:")
		if i < 0 {
			out[line] = ""
			continue
		}
		out[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
	}
	if pending != "" {
		i := strings.IndexAny(pending, "=:")
		if i >= 0 {
			out[strings.TrimSpace(pending[:i])] = strings.TrimSpace(pending[i+1:])
		}
	}
	return out, errors.Wrap(sc.Err(), "config: parse properties")
}
