/*
Package config loads the runtime's tunables: scheduler cost weights,
gossip timing, ledger and component timeouts, plus process settings
(bind addresses, data dir, TLS cert dir, object store Redis address,
log level). Load(configFile, envFile string) starts from Defaults()
and layers a YAML file and then the environment (LATTICE_-prefixed) on
top, so an empty invocation still returns a runnable Config.
*/
package config
