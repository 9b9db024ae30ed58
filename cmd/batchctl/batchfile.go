package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"videobatch/internal/domain"
)

// batchFile is the TOML description of a local run:
//
//	provider = "qwen"
//	category = "food"
//	prompts  = ["a bowl of ramen", "street tacos"]
//
//	[[accounts]]
//	email        = "one@example.com"
//	password_env = "QWEN_ONE_PASSWORD"
type batchFile struct {
	Provider string         `toml:"provider"`
	Category string         `toml:"category"`
	Prompts  []string       `toml:"prompts"`
	Accounts []accountEntry `toml:"accounts"`
}

type accountEntry struct {
	Email       string `toml:"email"`
	Password    string `toml:"password"`
	PasswordEnv string `toml:"password_env"`
}

func loadBatchFile(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var file batchFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse batch file %s: %w", path, err)
	}
	file.Provider = strings.ToLower(strings.TrimSpace(file.Provider))
	if file.Provider == "" {
		return nil, fmt.Errorf("batch file %s: provider is required", path)
	}
	return &file, nil
}

// accounts resolves passwords, reading password_env when password is empty.
func (f *batchFile) accounts() ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(f.Accounts))
	for i, entry := range f.Accounts {
		secret := entry.Password
		if secret == "" && entry.PasswordEnv != "" {
			secret = os.Getenv(entry.PasswordEnv)
			if secret == "" {
				return nil, fmt.Errorf("accounts[%d]: %s is not set", i, entry.PasswordEnv)
			}
		}
		out = append(out, domain.Account{Identity: strings.TrimSpace(entry.Email), Secret: secret})
	}
	return out, nil
}
