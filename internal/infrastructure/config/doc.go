// Package config handles loading and validating the MAX! Cube gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MAXCUBE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret must be set whenever the HTTP API is enabled
//
// Usage:
//
//	cfg, err := config.Load("configs/maxcube.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Cube.Serial)
package config
