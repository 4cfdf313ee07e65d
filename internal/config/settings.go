package config

import (
	"context"
	"fmt"
	"strings"
)

// Option names under which the bucket settings are persisted.
const (
	OptionBucketName = "bucket_name"
	OptionRegion     = "region"
	OptionAccessKey  = "access_key"
	OptionSecretKey  = "secret_key"
)

// FieldKind is the input type a settings renderer should use.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindPassword FieldKind = "password"
)

// SettingField describes one entry of the settings form.
type SettingField struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	Kind      FieldKind `json:"kind"`
	Sensitive bool      `json:"sensitive"`
}

// SettingsSchema is the ordered list of bucket settings. Renderers outside
// this module build their forms from it.
var SettingsSchema = []SettingField{
	{Name: OptionBucketName, Label: "Amazon S3 bucket name", Kind: KindText},
	{Name: OptionRegion, Label: "Amazon S3 region", Kind: KindText},
	{Name: OptionAccessKey, Label: "Amazon S3 access key", Kind: KindText},
	{Name: OptionSecretKey, Label: "Amazon S3 secret key", Kind: KindPassword, Sensitive: true},
}

// LookupField returns the schema entry for name.
func LookupField(name string) (SettingField, bool) {
	for _, f := range SettingsSchema {
		if f.Name == name {
			return f, true
		}
	}
	return SettingField{}, false
}

// OptionStore is the host's persistent key/value settings store. GetOption
// returns "" and a nil error for options that were never set.
type OptionStore interface {
	GetOption(ctx context.Context, name string) (string, error)
	PutOption(ctx context.Context, name, value string) error
}

// BucketConfig is everything needed to build a store client.
type BucketConfig struct {
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	Endpoint     string
	UsePathStyle bool
}

// Missing returns the names of the required settings that are empty.
func (b BucketConfig) Missing() []string {
	values := map[string]string{
		OptionBucketName: b.Bucket,
		OptionRegion:     b.Region,
		OptionAccessKey:  b.AccessKey,
		OptionSecretKey:  b.SecretKey,
	}
	var missing []string
	for _, f := range SettingsSchema {
		if strings.TrimSpace(values[f.Name]) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Complete reports whether all four required settings are present.
func (b BucketConfig) Complete() bool {
	return len(b.Missing()) == 0
}

// With returns a copy of b with values applied by setting name. Names
// outside the schema are ignored.
func (b BucketConfig) With(values map[string]string) BucketConfig {
	for name, v := range values {
		v = strings.TrimSpace(v)
		switch name {
		case OptionBucketName:
			b.Bucket = v
		case OptionRegion:
			b.Region = v
		case OptionAccessKey:
			b.AccessKey = v
		case OptionSecretKey:
			b.SecretKey = v
		}
	}
	return b
}

// ReadBucketConfig reads the bucket settings fresh from store. Endpoint and
// path-style addressing are deployment settings and come from storage.
func ReadBucketConfig(ctx context.Context, store OptionStore, storage StorageConfig) (BucketConfig, error) {
	values := make(map[string]string, len(SettingsSchema))
	for _, f := range SettingsSchema {
		v, err := store.GetOption(ctx, f.Name)
		if err != nil {
			return BucketConfig{}, fmt.Errorf("reading option %q: %w", f.Name, err)
		}
		values[f.Name] = strings.TrimSpace(v)
	}
	return BucketConfig{
		Bucket:       values[OptionBucketName],
		Region:       values[OptionRegion],
		AccessKey:    values[OptionAccessKey],
		SecretKey:    values[OptionSecretKey],
		Endpoint:     storage.Endpoint,
		UsePathStyle: storage.UsePathStyle,
	}, nil
}

// SeedBucketSettings copies non-empty values from storage into store for
// every option that is not yet set. It runs on every boot and never
// overwrites settings changed at runtime.
func SeedBucketSettings(ctx context.Context, store OptionStore, storage StorageConfig) (int, error) {
	seeds := map[string]string{
		OptionBucketName: storage.Bucket,
		OptionRegion:     storage.Region,
		OptionAccessKey:  storage.AccessKey,
		OptionSecretKey:  storage.SecretKey,
	}
	seeded := 0
	for _, f := range SettingsSchema {
		seed := seeds[f.Name]
		if seed == "" {
			continue
		}
		existing, err := store.GetOption(ctx, f.Name)
		if err != nil {
			return seeded, fmt.Errorf("reading option %q: %w", f.Name, err)
		}
		if existing != "" {
			continue
		}
		if err := store.PutOption(ctx, f.Name, seed); err != nil {
			return seeded, fmt.Errorf("seeding option %q: %w", f.Name, err)
		}
		seeded++
	}
	return seeded, nil
}

// WriteBucketSettings persists values. Unknown names are rejected before
// anything is written.
func WriteBucketSettings(ctx context.Context, store OptionStore, values map[string]string) error {
	for name := range values {
		if _, ok := LookupField(name); !ok {
			return fmt.Errorf("unknown setting %q", name)
		}
	}
	for _, f := range SettingsSchema {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if err := store.PutOption(ctx, f.Name, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("writing option %q: %w", f.Name, err)
		}
	}
	return nil
}

// MaskValue hides the value of sensitive fields for display.
func MaskValue(f SettingField, value string) string {
	if !f.Sensitive || value == "" {
		return value
	}
	return strings.Repeat("*", 8)
}
