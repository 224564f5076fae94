package routing

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticConfig is the proxy's startup configuration: two entrypoints and a
// file provider that watches the declaration written by Writer.
type StaticConfig struct {
	EntryPoints map[string]EntryPoint `yaml:"entryPoints"`
	Providers   Providers             `yaml:"providers"`
	Log         *ProxyLog             `yaml:"log,omitempty"`
}

type EntryPoint struct {
	Address string `yaml:"address"`
}

type Providers struct {
	File FileProvider `yaml:"file"`
}

type FileProvider struct {
	Filename string `yaml:"filename"`
	Watch    bool   `yaml:"watch"`
}

type ProxyLog struct {
	Level string `yaml:"level"`
}

// WriteStatic writes the proxy's static configuration to path unless a file
// already exists there. It reports whether it wrote the file.
func WriteStatic(path, declarationPath, primaryAddr, previewAddr string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	cfg := StaticConfig{
		EntryPoints: map[string]EntryPoint{
			EntryPointPrimary: {Address: primaryAddr},
			EntryPointPreview: {Address: previewAddr},
		},
		Providers: Providers{File: FileProvider{Filename: declarationPath, Watch: true}},
		Log:       &ProxyLog{Level: "INFO"},
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return false, err
	}
	if err := replaceFile(path, b, 0o644); err != nil {
		return false, err
	}
	return true, nil
}
