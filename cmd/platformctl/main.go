package main

import (
	"fmt"
	"os"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
	"github.com/tommy2118/tcf-platform/internal/config"
)

func main() {
	env := config.Environment(envOrDefault("TCF_ENV", "development"))
	composeFile := envOrDefault("TCF_COMPOSE_FILE", "docker-compose.yml")

	cli, err := NewCLI(env, composeFile, []string{"docker", "compose"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "platformctl: failed to initialize: %v\n", err)
		os.Exit(exitCodeFor(err))
	}

	if err := cli.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// exitCodeFor maps an apperrors.Kind to a stable non-zero exit status
// (spec §6: "non-zero with a category tag on failure"), 1 for anything
// not in the taxonomy.
func exitCodeFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindDeploymentValidation:
		return 2
	case apperrors.KindConfigurationMissing:
		return 3
	case apperrors.KindCircularDependency:
		return 4
	case apperrors.KindStorageConnection, apperrors.KindStorage, apperrors.KindCollection:
		return 5
	case apperrors.KindBackupCorrupted:
		return 6
	case apperrors.KindProductionDeployment:
		return 7
	case apperrors.KindSecurityAudit:
		return 8
	case apperrors.KindServerStartup:
		return 9
	default:
		return 1
	}
}
