// Package embeddedvalkey starts throwaway valkey and redis servers for tests.
//
// A topology is built with one of the builders and then started and stopped as one unit:
//
//   - server.Builder builds a single server, which is a topology on its own
//   - ha.Builder builds sentinels watching replication groups
//   - sharded.Builder builds a slot-sharded cluster and joins its nodes once they are up
//
// basic.New wraps any topology with logging and Must helpers for use in tests.
package embeddedvalkey
