// Package domain holds the account and token records shared by the engine,
// its flows and the storage backends, along with the repository contracts
// those backends implement.
package domain
