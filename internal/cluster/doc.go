// Package cluster provides the cluster-facing primitives shared by the
// router and shard nodes: target identity, per-target command results, the
// HTTP/JSON command transport with scoped per-target connection leases, and
// node registration types.
package cluster
