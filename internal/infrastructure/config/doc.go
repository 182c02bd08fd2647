// Package config handles loading and validating Sinapsi Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SINAPSI_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (MQTT and Redis passwords, InfluxDB tokens) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Name)
package config
