// Package config loads the gateway service configuration from a YAML file and
// NEXUS_* environment variables.
//
// Example config.yaml:
//
//	server:
//	  listen_addr: 0.0.0.0:8080
//	  metrics_addr: 0.0.0.0:8090
//	embedded:
//	  enabled: true
//	  repo_root: /var/lib/nexus
//	  bootstrap_peers:
//	    - /ip4/10.0.0.5/tcp/4001/p2p/12D3KooW...
//	remote:
//	  default_provider: local
//	  providers:
//	    pinata: https://api.pinata.cloud
//	persistence:
//	  type: badger
//	  badger:
//	    path: /var/lib/nexus/catalogue
//	uploads:
//	  max_file_size: 104857600
//
// Every key can be overridden from the environment, for example
// NEXUS_REMOTE_DEFAULT_PROVIDER=infura.
package config
