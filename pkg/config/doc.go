// Package config defines the netlens configuration file and its defaults.
//
// Configuration is YAML (or JSON, chosen by file extension):
//
//	monitor:
//	  maxEvents: 500
//	  maxBodySize: 262144
//	  startActive: true
//	  ignoreURLs:
//	    - "**/healthz"
//	  filter:
//	    status: error
//	log:
//	  level: debug
//	  format: json
//	feed:
//	  addr: 127.0.0.1:7070
//	proxy:
//	  addr: 127.0.0.1:7071
//	  timeout: 30s
//	  rules:
//	    denyHosts: ["*.internal"]
//	ignore:
//	  backend: sqlite
//	  path: /var/lib/netlens/ignore.db
//
// Missing sections keep the values from Default.
package config
