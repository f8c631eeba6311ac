package env

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const DefaultEnvFile = ".env"

// InitConfig fills config from the environment after loading the optional .env file.
func InitConfig(config any) error {
	return InitConfigFrom(DefaultEnvFile, config)
}

// InitConfigFrom is InitConfig with a custom dotenv file.
// Variables already present in the environment win over the file.
func InitConfigFrom(file string, config any) error {
	// nolint:errcheck // the dotenv file is optional
	_ = godotenv.Load(file)

	if err := envconfig.Process("", config); err != nil {
		return errors.Wrap(err, "failed to envconfig.Process")
	}

	return nil
}
