package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
)

// maxRepositoriesFileSize caps the repository manifest file, guarding
// against a malformed or hostile YAML document consuming unbounded memory.
const maxRepositoriesFileSize = 1 << 20 // 1 MiB

// repositoriesFile is the on-disk shape of the repository manifest: one
// git URL per service name.
type repositoriesFile struct {
	Repositories map[string]string `yaml:"repositories"`
}

// loadRepositoriesFile reads and validates the repository manifest at
// path. An empty path or a missing file is not an error — it yields an
// empty map.
func loadRepositoriesFile(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigurationMissing, "failed to stat repository manifest", err)
	}
	if info.Size() > maxRepositoriesFileSize {
		return nil, apperrors.New(apperrors.KindValidation, fmt.Sprintf("repository manifest %s exceeds %d bytes", path, maxRepositoriesFileSize))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigurationMissing, "failed to read repository manifest", err)
	}

	var doc repositoriesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "malformed repository manifest YAML", err)
	}
	if doc.Repositories == nil {
		doc.Repositories = map[string]string{}
	}
	return doc.Repositories, nil
}
