// Beacon is an in-process observability pipeline: business logs, APM
// events and crash reports written to local day files under one live,
// persisted configuration.
//
// Usage:
//
//	# Run the pipeline with the persisted configuration
//	beacon run
//
//	# Seed the configuration from a YAML file, then run
//	beacon run --config beacon.yaml --seed
//
//	# Inspect and change the persisted configuration
//	beacon config show --output yaml
//	beacon config toggle apm.fps off
//	beacon config set-level debug
//
//	# Run one retention sweep
//	beacon sweep
//
//	# List or clear stored files
//	beacon files
//	beacon clear --yes
package main

func main() {
	Execute()
}
