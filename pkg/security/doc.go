/*
Package security provides cryptographic services for a Lattice mesh:
AES-256-GCM encryption for function bodies, a Certificate Authority for
mutual TLS between peers/clients/workers, and certificate lifecycle
helpers.

# Mesh encryption key

All at-rest encryption is rooted in a 32-byte mesh encryption key,
derived from the mesh ID during bootstrap:

	meshKey = SHA-256(meshID)

This key encrypts the CA's root private key before it is written to
the object store's CA bucket, and is also available to encrypt
FunctionSpec bodies via SecretsManager.EncryptFunctionBody. It is set
once per process via SetMeshEncryptionKey and held only in memory.

# Certificate Authority

CertAuthority issues RSA certificates signed by a single in-process
root: long-lived (10 year) self-signed root, 90-day node/peer
certificates, and 90-day client certificates for latticectl. Nodes
persist the encrypted root through the CAStore interface (satisfied by
pkg/objectstore's BoltStore) so every peer that holds the mesh
encryption key can reload the same root after a restart, rather than
each minting its own.

# Certificate files

certs.go manages on-disk PEM certificate/key pairs under
~/.lattice/certs/<role>-<id>/, so a holder of an mTLS identity can
persist it across restarts without re-issuing from the CA each time.
Neither cmd/latticed nor cmd/lattice-worker calls these helpers.
*/
package security
