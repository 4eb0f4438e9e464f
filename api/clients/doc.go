/*
Package clients provides the HTTP client of the storage API.

StorageClient covers the key-value routes as well as metrics and backend
listing. It implements interfaces.StorageBackend, so a peer agent can be
registered as a backend through the "remote" plugin:

	backends:
	  - name: peer
	    uri: http://10.0.0.5:8080?timeout=3s

Error responses are mapped back to the sentinel errors of package interfaces,
so errors.Is behaves the same for local and remote backends.
*/
package clients
