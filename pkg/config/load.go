package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envRef matches ${NAME} and ${NAME:-default}. A bare $NAME is left alone
// so passwords may contain dollar signs.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes environment references. As in the shell, the
// default also replaces an empty value. An unset variable without a
// default is an error rather than an empty string.
func ExpandEnv(data []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var missing []string
	out := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRef.FindSubmatch(ref)
		v, ok := lookup(string(m[1]))
		if ok && (v != "" || m[2] == nil) {
			return []byte(v)
		}
		if m[2] != nil {
			return m[3]
		}
		missing = append(missing, string(m[1]))
		return ref
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// LoadYAML reads path, expands environment references and decodes it into
// out. Unknown keys are rejected so typos surface at startup. An empty
// file leaves out untouched.
func LoadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	data, err = ExpandEnv(data, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
