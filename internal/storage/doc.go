// Package storage provides the node-local document store interface and its
// in-memory implementation.
package storage
