package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadStack reads and parses a stack file, expanding environment variables,
// applying defaults, generating ids where absent, and validating the result.
func LoadStack(path string) (*Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stack file: %w", err)
	}

	var stack Stack
	if err := yaml.Unmarshal(data, &stack); err != nil {
		return nil, fmt.Errorf("parsing stack YAML: %w", err)
	}

	expandEnvVars(&stack)

	if err := assignIDs(&stack); err != nil {
		return nil, err
	}

	stack.SetDefaults()

	if err := stack.Validate(); err != nil {
		return nil, err
	}

	return &stack, nil
}

// expandEnvVars expands $VAR / ${VAR} references in every string field that
// may reasonably carry one, mirroring the teacher's field-by-field sweep.
func expandEnvVars(s *Stack) {
	s.Name = os.ExpandEnv(s.Name)

	for i := range s.Servers {
		srv := &s.Servers[i]
		srv.Name = os.ExpandEnv(srv.Name)
		srv.InstallCommand = os.ExpandEnv(srv.InstallCommand)
		srv.StartCommand = os.ExpandEnv(srv.StartCommand)

		for j := range srv.Env {
			srv.Env[j].Value = os.ExpandEnv(srv.Env[j].Value)
		}

		if srv.TransportConfig != nil {
			srv.TransportConfig.Endpoint = os.ExpandEnv(srv.TransportConfig.Endpoint)
			for k, v := range srv.TransportConfig.Headers {
				srv.TransportConfig.Headers[k] = os.ExpandEnv(v)
			}
		}
	}
}

// assignIDs generates an 8-character opaque id for any server whose id is
// absent from the stack file (the common case: ids are assigned once and
// then persisted by pkg/store, not hand-authored).
func assignIDs(s *Stack) error {
	for i := range s.Servers {
		if s.Servers[i].ID != "" {
			continue
		}
		id, err := NewServerID()
		if err != nil {
			return fmt.Errorf("server %q: %w", s.Servers[i].Name, err)
		}
		s.Servers[i].ID = id
	}
	return nil
}
