// Package config loads the service's YAML configuration file (spec.md
// §6.4) and applies its defaults. Grounded on the teacher's
// load-with-defaults pattern (LoadGlobalConfigFromPath: read file, fall
// back to defaults if absent, yaml.Unmarshal on top of a pre-populated
// default struct) and its directory/Validate split (daemon.Config).
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/posservice/posd/internal/types"
)

// File is the on-disk shape of the configuration file. All fields are
// optional; a field absent from the file keeps Default()'s value, while a
// field set explicitly (even to zero) overrides it.
type File struct {
	DataDir         string `yaml:"data_dir"`
	IndexesPerCycle uint64 `yaml:"indexes_per_cycle"`
	BitsPerIndex    uint32 `yaml:"bits_per_index"`
	Salt            string `yaml:"salt"` // hex, 32 bytes after decode
	N               uint32 `yaml:"n"`
	R               uint32 `yaml:"r"`
	P               uint32 `yaml:"p"`
	Port            uint32 `yaml:"port"`
	Host            string `yaml:"host"`
	UseCPUProviders bool   `yaml:"use_cpu_providers"`
}

// Default returns the File populated with spec.md §6.4's documented
// defaults.
func Default() *File {
	return &File{
		DataDir:         "./pos",
		IndexesPerCycle: 9 * 128 * 1024,
		BitsPerIndex:    8,
		Salt:            "", // all-zero salt once decoded
		N:               512,
		R:               1,
		P:               1,
		Port:            6667,
		Host:            "[::1]",
		UseCPUProviders: false,
	}
}

// Load reads path and overlays it onto the defaults. A missing file is not
// an error: it simply yields Default().
func Load(path string) (*File, error) {
	f := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}

// Validate checks the file for internally-consistent values. It does not
// validate against a particular job (that happens in AddJob).
func (f *File) Validate() error {
	if f.BitsPerIndex != 8 {
		return fmt.Errorf("bits_per_index must be 8, got %d", f.BitsPerIndex)
	}
	if f.IndexesPerCycle == 0 {
		return fmt.Errorf("indexes_per_cycle must be > 0")
	}
	if f.N == 0 || f.R == 0 || f.P == 0 {
		return fmt.Errorf("scrypt N, R, P must all be > 0")
	}
	if _, err := f.salt(); err != nil {
		return err
	}
	return nil
}

func (f *File) salt() ([32]byte, error) {
	var out [32]byte
	if f.Salt == "" {
		return out, nil
	}
	decoded, err := hex.DecodeString(f.Salt)
	if err != nil {
		return out, fmt.Errorf("salt is not valid hex: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("salt must decode to 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// DomainConfig extracts the subset of File that makes up the scheduler's
// mutable Config record (spec.md §3).
func (f *File) DomainConfig() (types.Config, error) {
	salt, err := f.salt()
	if err != nil {
		return types.Config{}, err
	}
	return types.Config{
		DataDir:         f.DataDir,
		IndexesPerCycle: f.IndexesPerCycle,
		BitsPerIndex:    f.BitsPerIndex,
		Salt:            salt,
		N:               f.N,
		R:               f.R,
		P:               f.P,
	}, nil
}

// Addr returns the host:port string the RPC server should bind to.
func (f *File) Addr() string {
	return fmt.Sprintf("%s:%d", f.Host, f.Port)
}
