package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"changewatch/internal/domain/entity"

	"gopkg.in/yaml.v3"
)

// ErrMissingVariable is returned when the monitors file references an unset
// environment variable without a default.
var ErrMissingVariable = errors.New("undefined environment variable")

// Duration is a time.Duration that unmarshals from "5m" style strings or a
// bare number of seconds.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if secs, err := strconv.ParseFloat(node.Value, 64); err == nil {
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	d.Duration = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// MonitorDefaults apply to every entry that leaves the field empty.
type MonitorDefaults struct {
	Interval  Duration `yaml:"interval"`
	Extractor string   `yaml:"extractor"`
	Category  string   `yaml:"category"`
}

// MonitorEntry is one monitored resource in the file.
type MonitorEntry struct {
	Name      string            `yaml:"name"`
	URL       string            `yaml:"url"`
	Interval  Duration          `yaml:"interval"`
	Extractor string            `yaml:"extractor"`
	Category  string            `yaml:"category"`
	Enabled   *bool             `yaml:"enabled"`
	Metadata  map[string]string `yaml:"metadata"`
}

// MonitorsFile is the parsed monitors file.
type MonitorsFile struct {
	Defaults MonitorDefaults `yaml:"defaults"`
	Monitors []MonitorEntry  `yaml:"monitors"`
}

// LoadMonitors reads and parses the monitors file at path.
func LoadMonitors(path string) (*MonitorsFile, error) {
	// #nosec G304 -- path comes from the operator (flag or MONITORS_FILE)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monitors file: %w", err)
	}
	f, err := ParseMonitors(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ParseMonitors expands ${VAR} references and decodes the document.
// Unknown keys are rejected.
func ParseMonitors(data []byte) (*MonitorsFile, error) {
	expanded, err := expandEnv(string(data))
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	var f MonitorsFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("parse monitors file: %w", err)
	}
	return &f, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default}. Bare $VAR is left alone
// since URLs may contain dollar signs.
func expandEnv(s string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		if strings.Contains(ref, ":-") {
			return m[2]
		}
		missing = append(missing, m[1])
		return ref
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}
	return out, nil
}

// ResourceConfigs validates every entry and converts it to a registration
// record. defaultInterval applies when neither the entry nor the file
// defaults set one. All invalid entries are reported together.
func (f *MonitorsFile) ResourceConfigs(defaultInterval time.Duration) ([]entity.ResourceConfig, error) {
	if f.Defaults.Interval.Duration > 0 {
		defaultInterval = f.Defaults.Interval.Duration
	}

	var errs []error
	seen := make(map[string]int, len(f.Monitors))
	configs := make([]entity.ResourceConfig, 0, len(f.Monitors))
	for i, m := range f.Monitors {
		rc := entity.ResourceConfig{
			Locator:       strings.TrimSpace(m.URL),
			Name:          m.Name,
			Category:      firstNonEmpty(m.Category, f.Defaults.Category),
			CheckInterval: m.Interval.Duration,
			Extractor:     firstNonEmpty(m.Extractor, f.Defaults.Extractor),
			Metadata:      m.Metadata,
			Disabled:      m.Enabled != nil && !*m.Enabled,
		}
		if rc.CheckInterval == 0 {
			rc.CheckInterval = defaultInterval
		}
		if err := rc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("monitors[%d] (%s): %w", i, entryLabel(m), err))
			continue
		}

		canonical, err := entity.CanonicalLocator(rc.Locator)
		if err != nil {
			errs = append(errs, fmt.Errorf("monitors[%d] (%s): %w", i, entryLabel(m), err))
			continue
		}
		key := canonical + "|" + rc.Extractor
		if prev, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("monitors[%d] (%s): duplicates monitors[%d]", i, entryLabel(m), prev))
			continue
		}
		seen[key] = i
		configs = append(configs, rc)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return configs, nil
}

func entryLabel(m MonitorEntry) string {
	if m.Name != "" {
		return m.Name
	}
	return m.URL
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
