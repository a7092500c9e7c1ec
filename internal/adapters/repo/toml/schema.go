package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Identity *identitySchema `toml:"identity,omitempty"`
	Token    tokenSchema     `toml:"token,omitempty"`
	SavedAt  string          `toml:"saved_at,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported state schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

func (s fileSchema) empty() bool {
	return s.Identity == nil && s.Token.SecretRef == ""
}

type identitySchema struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	Email       string `toml:"email,omitempty"`
	AvatarURL   string `toml:"avatar_url,omitempty"`
	Bio         string `toml:"bio,omitempty"`
	Location    string `toml:"location,omitempty"`
	Onboarded   bool   `toml:"onboarded"`
}

type tokenSchema struct {
	SecretRef string `toml:"secret_ref,omitempty"`
}
