// Package oauth talks to the provider's authorization server: it builds the
// consent redirect, exchanges authorization codes, and refreshes tokens.
// It also signs the anti-forgery state carried through the redirect.
package oauth
