package main

import (
	"fmt"

	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

// secrets resolves sensitive settings from Vault when a vault path is
// configured, falling back to the command line.
type secrets struct {
	c      *cli.Context
	values map[string]interface{}
}

func loadSecrets(c *cli.Context) (*secrets, error) {
	s := &secrets{c: c, values: map[string]interface{}{}}
	if c.String("vault-path") == "" {
		return s, nil
	}

	config := vault.DefaultConfig()
	if addr := c.String("vaultaddr"); addr != "" {
		config.Address = addr
	}

	vc, err := vault.NewClient(config)
	if err != nil {
		return nil, errors.Wrap(err, "while creating vault client")
	}

	options := map[string]interface{}{
		"password": c.String("vault-password"),
	}
	path := fmt.Sprintf("auth/userpass/login/%s", c.String("vault-username"))

	secret, err := vc.Logical().Write(path, options)
	if err != nil {
		return nil, errors.Wrap(err, "while logging in to vault")
	}
	if secret == nil || secret.Auth == nil {
		return nil, errors.New("vault login returned no token")
	}

	vc.SetToken(secret.Auth.ClientToken)

	stored, err := vc.Logical().Read(c.String("vault-path"))
	if err != nil {
		return nil, errors.Wrap(err, "while reading secrets from vault")
	}
	if stored == nil {
		return nil, errors.Errorf("no secret at %s", c.String("vault-path"))
	}

	s.values = stored.Data
	// kv version 2 nests the payload
	if nested, ok := stored.Data["data"].(map[string]interface{}); ok {
		s.values = nested
	}
	return s, nil
}

// get returns the vault value for name, or the flag of the same name.
func (s *secrets) get(name string) string {
	if v, ok := s.values[name].(string); ok && v != "" {
		return v
	}
	return s.c.String(name)
}
