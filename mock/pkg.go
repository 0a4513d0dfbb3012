// Package mock has test doubles shared across packages: an upstream origin that serves a
// set of resources at a release version that tests can bump, and a generated CA with
// server and client certs for exercising TLS.
package mock
