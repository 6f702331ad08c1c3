// Package auth provides API key authentication middleware for the HTTP
// surfaces.
package auth
