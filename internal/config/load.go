package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "PULSESYNC_"

// Loader собирает конфигурацию из всех источников
type Loader struct {
	lookupEnv func(string) (string, bool)
	flags     *pflag.FlagSet
	path      string
	dotenv    []string
}

// NewLoader creates a loader reading the YAML file at path (optional)
// and the flags of fs (optional)
func NewLoader(path string, fs *pflag.FlagSet) *Loader {
	return &Loader{
		lookupEnv: os.LookupEnv,
		flags:     fs,
		path:      path,
	}
}

// WithEnv replaces the environment lookup
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// WithDotenv sets the .env files loaded into the process environment.
// Missing files are skipped.
func (l *Loader) WithDotenv(files ...string) *Loader {
	l.dotenv = files
	return l
}

// LoadClient loads and validates the client configuration
func (l *Loader) LoadClient() (*ClientConfig, error) {
	cfg := DefaultClient()
	if err := l.load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	return cfg, nil
}

// LoadServer loads and validates the server configuration
func (l *Loader) LoadServer() (*ServerConfig, error) {
	cfg := DefaultServer()
	if err := l.load(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return cfg, nil
}

func (l *Loader) load(cfg any) error {
	if l.path != "" {
		if err := readFile(l.path, cfg); err != nil {
			return err
		}
	}

	// .env не перекрывает уже заданные переменные окружения
	for _, f := range l.dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	for _, f := range fields(cfg) {
		raw, ok := l.lookupEnv(EnvName(f.key))
		if !ok {
			continue
		}
		if err := set(f.value, raw); err != nil {
			return fmt.Errorf("%s: %w", EnvName(f.key), err)
		}
	}

	if l.flags == nil {
		return nil
	}
	var flagErr error
	l.flags.Visit(func(fl *pflag.Flag) {
		if flagErr != nil {
			return
		}
		for _, f := range fields(cfg) {
			if FlagName(f.key) != fl.Name {
				continue
			}
			if err := set(f.value, fl.Value.String()); err != nil {
				flagErr = fmt.Errorf("--%s: %w", fl.Name, err)
			}
			return
		}
	})
	return flagErr
}

func readFile(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// BindFlags registers one flag per configuration key of cfg on fs.
// Only flags set on the command line override other sources.
func BindFlags(fs *pflag.FlagSet, cfg any) {
	for _, f := range fields(cfg) {
		fs.String(FlagName(f.key), format(f.value), f.usage)
	}
}

// EnvName returns the environment variable of a configuration key
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(key)
}

// FlagName returns the command line flag of a configuration key
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

type field struct {
	value reflect.Value
	key   string
	usage string
}

func fields(cfg any) []field {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	out := make([]field, 0, t.NumField())
	for i := range t.NumField() {
		key, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if key == "" || key == "-" {
			continue
		}
		out = append(out, field{value: v.Field(i), key: key, usage: t.Field(i).Tag.Get("usage")})
	}
	return out
}

var durationType = reflect.TypeFor[time.Duration]()

func set(v reflect.Value, raw string) error {
	raw = strings.TrimSpace(raw)
	switch {
	case v.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
	case v.Kind() == reflect.String:
		v.SetString(raw)
	case v.Kind() == reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case v.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.String:
		var items []string
		for item := range strings.SplitSeq(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		v.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported config type %s", v.Type())
	}
	return nil
}

func format(v reflect.Value) string {
	switch {
	case v.Type() == durationType:
		return time.Duration(v.Int()).String()
	case v.Kind() == reflect.Slice:
		return strings.Join(v.Interface().([]string), ",")
	default:
		return fmt.Sprint(v.Interface())
	}
}
