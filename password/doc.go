// Package password provides argon2id credential hashing in PHC string
// format.
package password
