/*
Package containerhost implements the container-host Provider Adapter:
one containerd container per component, booted from a language-keyed
base image with the transport endpoint and component ID injected as
environment variables. The container's own cmd/lattice-worker connects
back over the transport and sends READY.
*/
package containerhost
