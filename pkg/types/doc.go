// Package types defines the Depot interface, configuration, table names and
// the standard errors shared by the depot storage and replication packages.
package types
