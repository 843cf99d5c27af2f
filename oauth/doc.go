// Package oauth implements the federated login provider adapter:
// authorize-URL construction with PKCE, authorization-code exchange, and
// normalized user-info retrieval for the supported providers.
package oauth
