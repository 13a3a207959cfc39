// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Every field is optional except where Validate says otherwise; unset fields
// take the Default* constants.
package config
