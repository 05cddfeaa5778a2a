package config

import "github.com/joho/godotenv"

// LoadDotEnv reads a .env file into the environment.
// Variables already set take precedence over the file.
func LoadDotEnv(path string) error {
	return godotenv.Load(path)
}
