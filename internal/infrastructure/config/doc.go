// Package config handles loading and validating brewlink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with BREWLINK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Secrets (MQTT password, InfluxDB token) should be supplied through the
// environment rather than the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Supervisor.PollInterval)
package config
