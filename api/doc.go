/*
Package api holds the wire contract of the storage API: routes, query
parameters, error codes and the server configuration.

The server lives in package httpserver and the client in api/clients.
*/
package api
