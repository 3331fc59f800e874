// Package config loads the agentosd configuration from YAML or JSON files and
// fills in defaults for every section that the file leaves empty.
package config
