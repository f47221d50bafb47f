/*
Package pki implements the cluster's public key infrastructure: one
self-signed root authority issuing a leaf certificate/key pair per
component.

Every component trusts the single root, which keeps trust verification
simple and mirrors a real cluster's PKI model at single-host scale.
Private keys are written with owner-only permissions; a permission failure
on write is fatal. Issuance is idempotent within a run for identical
identity/SAN inputs, and the root is never regenerated mid-run.

The package also renders the derived client artifacts that embed CA
material: kubeconfigs (admin plus per-component), the service account
signing key pair, and the API server's encryption-at-rest configuration.
*/
package pki
