/*
Package config loads the layerstore configuration file.

The file is YAML and is applied on top of Default, so a file only needs
the keys it changes:

	backend: kv            # sql | kv | crd
	sql:
	  dsn: file:/var/lib/layerstore/layerstore.db?_foreign_keys=on
	kv:
	  path: /var/lib/layerstore/layerstore.bolt
	  root: LINSTOR
	crd:
	  kubeconfig: ""       # empty selects in-cluster configuration
	  group: internal.linstor.linbit.com
	  version: v1
	log:
	  level: info
	  json: false
	metrics:
	  addr: ":9105"
	  interval: 30s

Validate checks only the settings of the selected backend.
*/
package config
