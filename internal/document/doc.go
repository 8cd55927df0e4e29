// Package document provides the wire document representation shared across
// the cluster protocol, with typed field accessors that tolerate the
// numeric variants JSON transport produces.
package document
